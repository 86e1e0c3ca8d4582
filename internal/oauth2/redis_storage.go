package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"token-broker/internal/common/errors"
	"token-broker/internal/redis"
)

// RedisInterface defines the Redis operations needed for token storage.
// *redis.Client from internal/redis satisfies it; Get must return
// redis.ErrKeyNotFound for a missing key.
type RedisInterface interface {
	// Get retrieves a value by key from Redis
	Get(ctx context.Context, key string) (string, error)
	// SetIndexed stores a value with a TTL and scores member in a sorted set, atomically
	SetIndexed(ctx context.Context, key, value string, ttl time.Duration, index, member string, score float64) error
	// DeleteIndexed removes a key and its sorted set member, atomically
	DeleteIndexed(ctx context.Context, key, index, member string) error
	// IndexRangeUpTo lists sorted set members scored at or below max
	IndexRangeUpTo(ctx context.Context, index string, max float64) ([]string, error)
}

const (
	defaultRedisTokenPrefix = "oauth2:token:"
	defaultRedisExpiryIndex = "oauth2:expiry"
)

// RedisTokenStorage implements TokenStore using Redis for distributed token storage.
// This implementation is suitable for multi-instance deployments where tokens need to be
// shared across multiple broker instances. Each token is one JSON string value written
// with a single SET, and a sorted set scored by expiry backs ListExpiring.
type RedisTokenStorage struct {
	// client provides the Redis operations interface
	client RedisInterface
	// prefix is prepended to all Redis keys for namespace isolation
	prefix string
	// index is the sorted set of accounts scored by expiry unix time
	index string
	// ttl caps the Redis key lifetime (30 days)
	ttl time.Duration
	// now computes key TTLs
	now Clock
}

// NewRedisTokenStorage creates a new Redis-backed token storage instance.
// The storage is configured with a default key prefix "oauth2:token:" and a default
// TTL of 30 days. TTL is automatically adjusted based on individual token expiry times.
//
// Parameters:
//   - client: A RedisInterface implementation (e.g., internal/redis.Client)
//   - opts: WithClock is honoured, other options are ignored
//
// Returns a configured RedisTokenStorage ready for distributed token storage.
func NewRedisTokenStorage(client RedisInterface, opts ...Option) *RedisTokenStorage {
	return &RedisTokenStorage{
		client: client,
		prefix: defaultRedisTokenPrefix,
		index:  defaultRedisExpiryIndex,
		ttl:    DefaultLongLivedWindow,
		now:    buildOptions(opts).clock,
	}
}

// SaveToken persists a token to Redis with TTL management.
//
// TTL Calculation:
//   - For tokens with expiry: min(token_expiry + 24h, 30_days)
//   - For tokens already past that point: 30_days
//
// Parameters:
//   - ctx: Context for the Redis calls
//   - account: Account the token belongs to
//   - token: The token to persist
//
// The value and its expiry index entry are written in one transaction.
// Returns an error if serialization or Redis storage fails.
func (s *RedisTokenStorage) SaveToken(ctx context.Context, account AccountKey, token *Token) error {
	if token == nil {
		return nilTokenError()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}

	ttl := s.ttl
	if !token.Expiry.IsZero() {
		tokenTTL := token.Expiry.Sub(s.now()) + 24*time.Hour
		if tokenTTL > 0 && tokenTTL < ttl {
			ttl = tokenTTL
		}
	}

	err = s.client.SetIndexed(ctx, s.prefix+string(account), string(data), ttl,
		s.index, string(account), float64(token.Expiry.Unix()))
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// LoadToken retrieves a token from Redis.
// Keys that Redis already expired read as absent.
//
// Returns the token if found, nil if not found, or an error if deserialization fails.
func (s *RedisTokenStorage) LoadToken(ctx context.Context, account AccountKey) (*Token, error) {
	data, err := s.client.Get(ctx, s.prefix+string(account))
	if err != nil {
		if stderrors.Is(err, redis.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if data == "" {
		return nil, nil
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, errors.InternalError("failed to deserialize token", err).WithContext("account", string(account))
	}
	return &token, nil
}

// DeleteToken removes a token and its expiry index entry.
// The method is idempotent - deleting a non-existent token will not return an error.
func (s *RedisTokenStorage) DeleteToken(ctx context.Context, account AccountKey) error {
	return s.client.DeleteIndexed(ctx, s.prefix+string(account), s.index, string(account))
}

// ListExpiring reads the expiry index up to the given instant.
func (s *RedisTokenStorage) ListExpiring(ctx context.Context, before time.Time) ([]AccountKey, error) {
	members, err := s.client.IndexRangeUpTo(ctx, s.index, float64(before.Unix()))
	if err != nil {
		return nil, err
	}
	accounts := make([]AccountKey, len(members))
	for i, m := range members {
		accounts[i] = AccountKey(m)
	}
	return accounts, nil
}
