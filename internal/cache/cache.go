// Package cache provides a generic expiring cache shared by the response
// cache, the search settings cache and the temporal-reference cache.
//
// Two implementations exist: Memory, an in-process TTL cache with LRU
// eviction, and Redis, which JSON-encodes values under a key prefix.
//
// Cache writes are never allowed to fail a caller's primary operation; use
// SetAsync on request paths.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache maps keys to values that expire after a TTL.
type Cache[V any] interface {
	// Get returns the value and true on a hit. Expired entries are misses.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores a value. A ttl <= 0 uses the cache's default TTL.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this cache.
	Clear(ctx context.Context) error
}

// SetAsync writes in the background and logs failures instead of returning them.
func SetAsync[V any](c Cache[V], key string, value V, ttl time.Duration, logger *zap.Logger) {
	if c == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Set(ctx, key, value, ttl); err != nil {
			logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Cache read and write failures fall through to load.
func GetOrLoad[V any](ctx context.Context, c Cache[V], key string, ttl time.Duration, logger *zap.Logger, load func(context.Context) (V, error)) (V, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c != nil {
		v, ok, err := c.Get(ctx, key)
		if err != nil {
			logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		if err := c.Set(ctx, key, v, ttl); err != nil {
			logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

// New returns a Redis-backed cache when a client is given, otherwise an
// in-memory one. namespace separates caches sharing one Redis database.
func New[V any](client *redis.Client, keyPrefix, namespace string, ttl time.Duration, maxEntries int) Cache[V] {
	if client != nil {
		return NewRedis[V](client, keyPrefix+namespace+":", ttl)
	}
	return NewMemory[V](ttl, maxEntries)
}
