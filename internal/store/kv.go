// Package store adapts the external collaborators §6 specifies (KV, edge
// cache, queue) onto a single Redis deployment, the way the teacher used
// Redis exclusively for its token-bucket state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by KV.Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// ListEntry is one key returned by KV.List.
type ListEntry struct {
	Name       string
	Expiration *time.Time
}

// ListResult is a single page of a prefix scan.
type ListResult struct {
	Keys         []ListEntry
	Cursor       uint64
	ListComplete bool
}

// KV is the durable key-value store of truth (§6). Every method is safe to
// call concurrently.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, cursor uint64, count int64) (ListResult, error)
	// Incr increments an integer counter at key, setting ttl only on first
	// creation, and returns the new value. Used by behavior counters.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisKV implements KV on top of go-redis, generalizing the teacher's
// RedisMitigator (internal/rl/mitigation.go) from one hand-rolled key shape
// into the full KV contract §6 specifies.
type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV { return &RedisKV{rdb: rdb} }

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (k *RedisKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

func (k *RedisKV) Delete(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, key).Err()
}

func (k *RedisKV) List(ctx context.Context, prefix string, cursor uint64, count int64) (ListResult, error) {
	keys, next, err := k.rdb.Scan(ctx, cursor, prefix+"*", count).Result()
	if err != nil {
		return ListResult{}, err
	}
	entries := make([]ListEntry, 0, len(keys))
	for _, name := range keys {
		var exp *time.Time
		if ttl, err := k.rdb.TTL(ctx, name).Result(); err == nil && ttl > 0 {
			t := time.Now().Add(ttl)
			exp = &t
		}
		entries = append(entries, ListEntry{Name: name, Expiration: exp})
	}
	return ListResult{Keys: entries, Cursor: next, ListComplete: next == 0}, nil
}

func (k *RedisKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := k.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	// Only arm the TTL if this is the first increment (NX-style via
	// conditional expire avoids resetting the window on every hit).
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
