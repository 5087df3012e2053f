// Package cache is a small two-tier TTL cache: a process-local map in front
// of Redis. Values are JSON so reports survive process restarts via the
// Redis tier. Expiry is purely TTL driven; there is no manual invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

type Cache struct {
	client *redis.Client
	prefix string

	mu    sync.Mutex
	local map[string]entry
	now   func() time.Time
}

// New creates a cache. client may be nil, in which case only the local tier
// is used.
func New(client *redis.Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		local:  make(map[string]entry),
		now:    time.Now,
	}
}

func (c *Cache) key(key string) string {
	return c.prefix + key
}

// Get loads a cached value into target. It reports whether a fresh entry
// was found; a miss is not an error.
func (c *Cache) Get(ctx context.Context, key string, target any) (bool, error) {
	c.mu.Lock()
	cached, ok := c.local[key]
	if ok && c.now().Before(cached.expiresAt) {
		c.mu.Unlock()
		if err := json.Unmarshal(cached.data, target); err != nil {
			return false, fmt.Errorf("decode cached value: %w", err)
		}
		return true, nil
	}
	if ok {
		delete(c.local, key)
	}
	c.mu.Unlock()

	if c.client == nil {
		return false, nil
	}

	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("decode cached value: %w", err)
	}

	// Refill the local tier with the remaining TTL so both tiers expire
	// together.
	if ttl, err := c.client.TTL(ctx, c.key(key)).Result(); err == nil && ttl > 0 {
		c.mu.Lock()
		c.local[key] = entry{data: raw, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
	}
	return true, nil
}

// Set stores a value in both tiers with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	c.mu.Lock()
	c.local[key] = entry{data: raw, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
