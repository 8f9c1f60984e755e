// Package cache provides a Redis-backed key-value decorator that
// cmd/pmlserver uses to share the Hypergraph Index's raw co-occurrence
// counters across multiple PML processes. It is deliberately narrow — it is
// not a second store.Store implementation, only a small contract for
// mutable, frequently-updated scalars.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin wrapper over a Redis client scoped to a key prefix.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// New builds a Cache over rdb, namespacing every key under prefix.
func New(rdb *redis.Client, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// IncrBy increments the float counter at key by delta and returns the new
// value.
func (c *Cache) IncrBy(ctx context.Context, key string, delta float64) (float64, error) {
	return c.rdb.IncrByFloat(ctx, c.key(key), delta).Result()
}

// Set stores a float value at key with an optional TTL (zero means no
// expiry).
func (c *Cache) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), strconv.FormatFloat(value, 'g', -1, 64), ttl).Err()
}

// Get returns the float value at key, or (0, false) if unset.
func (c *Cache) Get(ctx context.Context, key string) (float64, bool, error) {
	s, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// PushCounters writes every entry of counts as a key under the cache's
// prefix, so other processes sharing this Redis instance observe the same
// raw counters on their next PullCounters.
func (c *Cache) PushCounters(ctx context.Context, counts map[string]float64) error {
	for key, v := range counts {
		if err := c.Set(ctx, key, v, 0); err != nil {
			return err
		}
	}
	return nil
}

// PullCounters reads back every counter previously written by PushCounters
// (from this process or another sharing the same prefix).
func (c *Cache) PullCounters(ctx context.Context) (map[string]float64, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(keys))
	for _, key := range keys {
		v, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// Keys returns every key under the cache's prefix, stripped of that prefix.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	raw, err := c.rdb.Keys(ctx, c.key("*")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	prefixLen := len(c.prefix) + 1
	for _, k := range raw {
		if len(k) > prefixLen {
			out = append(out, k[prefixLen:])
		}
	}
	return out, nil
}
