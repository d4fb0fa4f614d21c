package redis_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redisinfra "mathquest/internal/infra/redis"
)

func newClient(mr *miniredis.Miniredis) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
}

func TestCodeIndexBindLookupUnbind(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	index := redisinfra.NewCodeIndex(newClient(mr), time.Hour)

	if err := index.Bind(ctx, "ABC234", "game-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !mr.Exists("game:code:ABC234") {
		t.Fatalf("expected the code key to be set")
	}

	id, err := index.Lookup(ctx, "ABC234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id != "game-1" {
		t.Fatalf("expected game-1, got %q", id)
	}

	// Unknown codes resolve to empty, not an error.
	id, err = index.Lookup(ctx, "ZZZZZZ")
	if err != nil {
		t.Fatalf("lookup unknown: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}

	if err := index.Unbind(ctx, "ABC234"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if mr.Exists("game:code:ABC234") {
		t.Fatalf("expected the code key to be cleared")
	}
}

func TestCodeIndexEntriesExpire(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	index := redisinfra.NewCodeIndex(newClient(mr), time.Minute)

	if err := index.Bind(ctx, "ABC234", "game-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	id, err := index.Lookup(ctx, "ABC234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id != "" {
		t.Fatalf("expected expired entry, got %q", id)
	}
}
