// Package cache provides the key-value backends used by the pricing cache.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface. Hash operations let independent runs
// update single fields of a record without rewriting its siblings.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Key joins key components with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// EntryKey is the hash key of a pricing entry.
func EntryKey(cacheKey string) string {
	return Key("entry", cacheKey)
}

// TrimOptionsKey is the hash key holding per-year trim lists of a make/model.
func TrimOptionsKey(makeModel string) string {
	return Key("trims", makeModel)
}

// SlugsKey is the hash key holding model slugs.
const SlugsKey = "slugs"
