package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunGuard suppresses repeated lifecycle runs within a time window.
type RunGuard interface {
	// Acquire reports whether a run named name may proceed now.
	Acquire(ctx context.Context, name string) (bool, error)
	// Release drops the lock of a run that failed so a retry is not
	// suppressed.
	Release(ctx context.Context, name string) error
}

// Deduper remembers keys across runs.
type Deduper interface {
	// FirstSeen records key and reports whether it was new.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget removes key, e.g. when the work it marked did not happen.
	Forget(ctx context.Context, key string) error
}

// RedisRunGuard holds a SETNX lock per run name for Window.  A successful
// run keeps the lock until it expires, which rate limits scheduled and
// manual runs alike; a failed run releases it.
type RedisRunGuard struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

// NewRedisRunGuard returns a guard, or nil when rdb is nil or window is not
// positive.  A nil *RedisRunGuard lets every run through.
func NewRedisRunGuard(rdb *redis.Client, prefix string, window time.Duration) *RedisRunGuard {
	if rdb == nil || window <= 0 {
		return nil
	}
	return &RedisRunGuard{rdb: rdb, prefix: prefix, window: window}
}

// Acquire implements RunGuard.
func (g *RedisRunGuard) Acquire(ctx context.Context, name string) (bool, error) {
	if g == nil {
		return true, nil
	}
	ok, err := g.rdb.SetNX(ctx, g.key(name), time.Now().UTC().Format(time.RFC3339), g.window).Result()
	if err != nil {
		return true, fmt.Errorf("acquire run guard %s: %w", name, err)
	}
	return ok, nil
}

// Release implements RunGuard.
func (g *RedisRunGuard) Release(ctx context.Context, name string) error {
	if g == nil {
		return nil
	}
	if err := g.rdb.Del(ctx, g.key(name)).Err(); err != nil {
		return fmt.Errorf("release run guard %s: %w", name, err)
	}
	return nil
}

func (g *RedisRunGuard) key(name string) string {
	return fmt.Sprintf("%s:run:%s", g.prefix, name)
}

// RedisDeduper marks keys with SETNX and a TTL.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper returns nil when rdb is nil; a nil *RedisDeduper treats
// every key as new.
func NewRedisDeduper(rdb *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if rdb == nil {
		return nil
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

// FirstSeen implements Deduper.
func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	if d == nil {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.prefix+":"+key, 1, d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("dedupe %s: %w", key, err)
	}
	return ok, nil
}

// Forget implements Deduper.
func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	if d == nil {
		return nil
	}
	if err := d.rdb.Del(ctx, d.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	return nil
}
