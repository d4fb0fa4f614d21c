// Package redis holds the redis-backed pieces: the question catalog cache
// shared by all nodes, and the access-code routing index.
package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"mathquest/internal/catalog"
	"mathquest/internal/domain"
)

// CatalogCache caches question payloads in redis so many instances of one
// template share a single backing-store load. Entries are stored as the
// question's JSON envelope under game:question:{uid}.
type CatalogCache struct {
	client *redis.Client
	loader catalog.Loader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogCache(client *redis.Client, loader catalog.Loader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) Question(ctx context.Context, uid string) (domain.Question, error) {
	key := c.key(uid)

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err == nil {
			return q, nil
		}
		// Corrupt entry: fall through and repopulate.
	}

	result, err, _ := c.sf.Do(uid, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			var q domain.Question
			if err := json.Unmarshal([]byte(raw), &q); err == nil {
				return q, nil
			}
		}

		q, err := c.loader.LoadQuestion(ctx, uid)
		if err != nil {
			return domain.Question{}, err
		}
		if raw, err := json.Marshal(q); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (c *CatalogCache) key(uid string) string {
	return "game:question:" + uid
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
