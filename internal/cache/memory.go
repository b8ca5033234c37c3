package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryClient implements an in-memory cache for development and tests.
// Plain values are evicted least recently used once maxSize is reached;
// hashes are never evicted.
type MemoryClient struct {
	mu     sync.RWMutex
	data   *lru.Cache[string, cacheEntry]
	hashes map[string]map[string]string
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	data, _ := lru.New[string, cacheEntry](maxSize)
	return &MemoryClient{
		data:   data,
		hashes: make(map[string]map[string]string),
	}
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL. A zero TTL never expires.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.data.Add(key, cacheEntry{value: value, expiresAt: expires})
	return nil
}

// Delete removes a value or hash from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.Remove(key)
	delete(c.hashes, key)
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.data.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.data.Remove(key)
		}
	}
	for key := range c.hashes {
		if strings.HasPrefix(key, prefix) {
			delete(c.hashes, key)
		}
	}
	return nil
}

// HSet writes hash fields.
func (c *MemoryClient) HSet(ctx context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		c.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// HGetAll returns a copy of a hash.
func (c *MemoryClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.hashes[key]
	if !ok || len(h) == 0 {
		return nil, ErrCacheMiss
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

// HDel removes hash fields.
func (c *MemoryClient) HDel(ctx context.Context, key string, fields ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.hashes[key]; ok {
		for _, f := range fields {
			delete(h, f)
		}
	}
	return nil
}

// Keys lists value and hash keys under prefix in sorted order.
func (c *MemoryClient) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for _, key := range c.data.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key := range c.hashes {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}
