package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the edge HTTP cache substitute §9 calls for: "implementers
// without an HTTP-cache API should substitute a process-local LRU with TTL
// plus a shared external store if cross-process visibility is needed." This
// repo needs cross-process visibility (many gateway replicas share the
// pending-block view and the cuckoo filter snapshot), so it goes straight to
// the shared external store: Redis, keyed exactly as §6 specifies
// ("https://sentinel.internal/blocklist/..." URLs), with Cache-Control-style
// TTL expressed as a plain duration instead of a header.
type Cache interface {
	Match(ctx context.Context, url string) ([]byte, bool, error)
	Put(ctx context.Context, url string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, url string) (bool, error)
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) Match(ctx context.Context, url string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, cacheKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Put(ctx context.Context, url string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, cacheKey(url), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, url string) (bool, error) {
	n, err := c.rdb.Del(ctx, cacheKey(url)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func cacheKey(url string) string { return "cache:" + url }
