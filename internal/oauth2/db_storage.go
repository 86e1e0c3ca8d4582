package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"token-broker/internal/common/errors"
)

// KeyValueStore is the database contract DBTokenStorage needs.
// storage.SQLStore implements it for SQLite and PostgreSQL.
type KeyValueStore interface {
	// Get returns the value for key; found is false when there is none
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Put inserts or replaces the value for key in one statement
	Put(ctx context.Context, key, value string, expiresAt time.Time) error
	// Delete removes key, missing keys are not an error
	Delete(ctx context.Context, key string) error
	// KeysExpiringBefore lists keys expiring at or before the instant, soonest first
	KeysExpiringBefore(ctx context.Context, before time.Time) ([]string, error)
}

// DBTokenStorage implements TokenStore using a database backend for persistent token storage.
// Tokens are serialized as JSON and stored one row per account, with the expiry kept in
// its own column for ListExpiring. This implementation is suitable when persistence
// across restarts is required.
type DBTokenStorage struct {
	// store provides the underlying database storage operations
	store KeyValueStore
}

// NewDBTokenStorage creates a new database-backed token storage instance.
//
// Parameters:
//   - store: A KeyValueStore implementation (e.g., storage.SQLStore)
//
// Returns a configured DBTokenStorage ready for use.
func NewDBTokenStorage(store KeyValueStore) *DBTokenStorage {
	return &DBTokenStorage{store: store}
}

// SaveToken persists a token using JSON serialization.
// If a token already exists for the account, it is overwritten in a single UPSERT.
//
// Returns an error if serialization or database storage fails.
func (s *DBTokenStorage) SaveToken(ctx context.Context, account AccountKey, token *Token) error {
	if token == nil {
		return nilTokenError()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}
	return s.store.Put(ctx, string(account), string(data), token.Expiry)
}

// LoadToken retrieves a previously saved token from the database.
// If no token exists for the account, returns nil without error.
func (s *DBTokenStorage) LoadToken(ctx context.Context, account AccountKey) (*Token, error) {
	data, found, err := s.store.Get(ctx, string(account))
	if err != nil {
		return nil, err
	}
	if !found || data == "" {
		return nil, nil
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, errors.InternalError("failed to deserialize token", err).WithContext("account", string(account))
	}
	return &token, nil
}

// DeleteToken removes the account's row.
func (s *DBTokenStorage) DeleteToken(ctx context.Context, account AccountKey) error {
	return s.store.Delete(ctx, string(account))
}

// ListExpiring queries the expiry column.
func (s *DBTokenStorage) ListExpiring(ctx context.Context, before time.Time) ([]AccountKey, error) {
	keys, err := s.store.KeysExpiringBefore(ctx, before)
	if err != nil {
		return nil, err
	}
	accounts := make([]AccountKey, len(keys))
	for i, k := range keys {
		accounts[i] = AccountKey(k)
	}
	return accounts, nil
}
