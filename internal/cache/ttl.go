// Package cache implements the search core's TTL-guarded caches: the
// per-entry content/metadata caches and decrypted-private-metadata cache
// (TTLCache, L1 in-process with an optional Redis L2), and the single
// mutex-guarded encrypted-blocks pagination cache (PaginationCache, in
// pagination.go).
package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/go-redis/redis/v8"
)

// TTLCache is a two-level, per-key-TTL cache: an in-process LRU (L1) backed
// optionally by Redis (L2). Every key independently expires after ttl; L1
// eviction is also capacity-bounded. A nil Redis client makes this an L1
// only cache, which is the default; none of these caches needs durability.
type TTLCache[V any] struct {
	l1     *lru.LRU[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	prefix string
}

// NewTTLCache builds a TTLCache with the given L1 capacity and TTL. l2 may
// be nil.
func NewTTLCache[V any](capacity int, ttl time.Duration, l2 *redis.Client, keyPrefix string) *TTLCache[V] {
	return &TTLCache[V]{
		l1:     lru.NewLRU[string, []byte](capacity, nil, ttl),
		l2:     l2,
		ttl:    ttl,
		prefix: keyPrefix,
	}
}

// Set stores value under key, JSON-encoded, in L1 and (if configured) L2.
func (c *TTLCache[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.l1.Add(key, data)
	if c.l2 != nil {
		return c.l2.Set(ctx, c.fullKey(key), data, c.ttl).Err()
	}
	return nil
}

// Get retrieves value for key. found is false on an L1+L2 miss or on an
// expired entry.
func (c *TTLCache[V]) Get(ctx context.Context, key string) (value V, found bool) {
	if data, ok := c.l1.Get(key); ok {
		if err := json.Unmarshal(data, &value); err == nil {
			return value, true
		}
	}
	if c.l2 == nil {
		return value, false
	}
	data, err := c.l2.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	c.l1.Add(key, data)
	return value, true
}

// Delete removes key from L1 and L2.
func (c *TTLCache[V]) Delete(ctx context.Context, key string) {
	c.l1.Remove(key)
	if c.l2 != nil {
		c.l2.Del(ctx, c.fullKey(key))
	}
}

// Len returns the number of live entries in L1.
func (c *TTLCache[V]) Len() int { return c.l1.Len() }

// Keys returns the current L1 keys.
func (c *TTLCache[V]) Keys() []string { return c.l1.Keys() }

// Purge removes all entries whose key matches pred from L1 (and, if keys
// are deterministic, should be paired with explicit L2 deletes by the
// caller, since Redis has no efficient "scan by predicate" primitive here).
func (c *TTLCache[V]) Purge(pred func(key string) bool) {
	for _, k := range c.l1.Keys() {
		if pred(k) {
			c.l1.Remove(k)
		}
	}
}

func (c *TTLCache[V]) fullKey(key string) string {
	return c.prefix + ":" + key
}
