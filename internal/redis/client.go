// Package redis wraps go-redis for the token store, the state cache and
// the refresh lock.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get and GetDel when the key does not exist
var ErrKeyNotFound = stderrors.New("redis: key not found")

type Client struct {
	rdb    *redis.Client
	config Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewClient connects to Redis and pings it. config is copied; defaults are
// applied to the copy.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	cfg := *config
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: cfg,
	}, nil
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.config
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetGoRedisClient exposes the underlying client for libraries that need it (redsync)
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

// Set stores value under key. Strings and byte slices are stored as-is,
// anything else as JSON. A zero expiration means no TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	return c.rdb.Set(ctx, key, data, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

// GetDel atomically reads and removes key
func (c *Client) GetDel(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.rdb.Exists(ctx, key).Result()
	return count > 0, err
}

// SetIndexed stores value under key and scores member in index in one
// MULTI/EXEC, so neither write is visible without the other
func (c *Client) SetIndexed(ctx context.Context, key, value string, expiration time.Duration, index, member string, score float64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, expiration)
		pipe.ZAdd(ctx, index, &redis.Z{Score: score, Member: member})
		return nil
	})
	return err
}

// DeleteIndexed removes key and its member of index in one MULTI/EXEC
func (c *Client) DeleteIndexed(ctx context.Context, key, index, member string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, index, member)
		return nil
	})
	return err
}

// IndexRangeUpTo returns the members of index with a score <= max, lowest first
func (c *Client) IndexRangeUpTo(ctx context.Context, index string, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}
