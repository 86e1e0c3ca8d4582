// Package cache holds short-lived string values with a TTL.
//
// Two backends are provided:
//   - LocalCache over github.com/patrickmn/go-cache, for a single instance
//   - RedisCache over internal/redis, shared by every instance
//
// The broker uses it to map authorization correlation states back to accounts.
// Take reads and removes a value in one step, so a state can be consumed once.
package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"token-broker/internal/redis"
)

// Cache defines the interface for cache operations
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns the value and removes it. Concurrent Takes of one key
	// succeed at most once.
	Take(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
	// go-cache has no get-and-delete; takeMu makes Take atomic
	takeMu sync.Mutex
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, found := l.cache.Get(key)
	if !found {
		return "", false, nil
	}
	s, ok := val.(string)
	return s, ok, nil
}

// Set stores a value in the local cache
func (l *LocalCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// Take retrieves and removes a value
func (l *LocalCache) Take(ctx context.Context, key string) (string, bool, error) {
	l.takeMu.Lock()
	defer l.takeMu.Unlock()

	val, found, _ := l.Get(ctx, key)
	if found {
		l.cache.Delete(key)
	}
	return val, found, nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// RedisCache stores values in Redis under a key prefix
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	return found(r.client.Get(ctx, r.keyPrefix+key))
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, ttl)
}

// Take retrieves and removes a value with GETDEL
func (r *RedisCache) Take(ctx context.Context, key string) (string, bool, error) {
	return found(r.client.GetDel(ctx, r.keyPrefix+key))
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, r.keyPrefix+key)
}

func found(val string, err error) (string, bool, error) {
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
