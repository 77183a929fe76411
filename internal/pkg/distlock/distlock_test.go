package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLockPair(t *testing.T) (*RedisLock, *RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLock(client, "sync", time.Minute),
		NewRedisLock(client, "sync", time.Minute), mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	a, b, _ := newRedisLockPair(t)
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("second holder must not acquire a held lock")
	}
}

func TestRedisLockReleaseAllowsReacquire(t *testing.T) {
	a, b, _ := newRedisLockPair(t)
	ctx := context.Background()

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := b.TryAcquire(ctx)
	if err != nil || !ok {
		t.Errorf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	a, b, mr := newRedisLockPair(t)
	ctx := context.Background()

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// A non-owner release must leave the lock in place.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if !mr.Exists("lock:sync") {
		t.Error("lock was released by a non-owner")
	}
}

func TestRedisLockExpires(t *testing.T) {
	a, b, mr := newRedisLockPair(t)
	ctx := context.Background()

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	mr.FastForward(2 * time.Minute)

	ok, err := b.TryAcquire(ctx)
	if err != nil || !ok {
		t.Errorf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}
