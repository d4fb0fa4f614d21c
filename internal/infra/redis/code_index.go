package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeIndex maps access codes to game instance ids in redis so any node can
// route a join without hitting postgres. Entries expire on their own in case
// a node dies before unbinding.
type CodeIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCodeIndex(client *redis.Client, ttl time.Duration) *CodeIndex {
	return &CodeIndex{client: client, ttl: ttl}
}

func (i *CodeIndex) Bind(ctx context.Context, accessCode, instanceID string) error {
	return i.client.Set(ctx, i.key(accessCode), instanceID, i.ttl).Err()
}

// Lookup returns the instance id for a code, or "" when unknown.
func (i *CodeIndex) Lookup(ctx context.Context, accessCode string) (string, error) {
	id, err := i.client.Get(ctx, i.key(accessCode)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (i *CodeIndex) Unbind(ctx context.Context, accessCode string) error {
	return i.client.Del(ctx, i.key(accessCode)).Err()
}

func (i *CodeIndex) key(accessCode string) string {
	return "game:code:" + accessCode
}
