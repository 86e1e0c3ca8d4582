package oauth2

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-broker/internal/common/errors"
)

func nilTokenError() *errors.AppError {
	return errors.ValidationError("token cannot be nil")
}

// TokenStore persists one Token per account.
// Every implementation must be safe for concurrent use, and a SaveToken must be
// observed by LoadToken either entirely or not at all.
type TokenStore interface {
	// LoadToken returns the stored token, or nil without error when there is none
	LoadToken(ctx context.Context, account AccountKey) (*Token, error)
	// SaveToken replaces whatever is stored for the account
	SaveToken(ctx context.Context, account AccountKey, token *Token) error
	// DeleteToken removes the account's token. Deleting a missing token is not an error.
	DeleteToken(ctx context.Context, account AccountKey) error
}

// ExpiryIndex is implemented by stores that can list accounts by expiry.
// The proactive refresher needs it.
type ExpiryIndex interface {
	// ListExpiring returns accounts whose token expires at or before the instant, soonest first
	ListExpiring(ctx context.Context, before time.Time) ([]AccountKey, error)
}

// expiryIndexOf finds an ExpiryIndex in store or in the stores it wraps
func expiryIndexOf(store TokenStore) (ExpiryIndex, bool) {
	for store != nil {
		if wrapper, ok := store.(interface{ Unwrap() TokenStore }); ok {
			store = wrapper.Unwrap()
			continue
		}
		index, ok := store.(ExpiryIndex)
		return index, ok
	}
	return nil, false
}

// MemoryTokenStorage implements TokenStore using an in-memory map.
// This implementation is suitable for testing and single-instance deployments
// where token persistence across restarts is not required. Tokens are copied
// on the way in and out so callers cannot mutate stored state.
type MemoryTokenStorage struct {
	mu     sync.RWMutex
	tokens map[AccountKey]*Token
}

// NewMemoryTokenStorage creates an empty in-memory token store.
//
// Returns a MemoryTokenStorage ready for concurrent use.
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{
		tokens: make(map[AccountKey]*Token),
	}
}

// SaveToken stores a copy of the token for the account, replacing any previous one.
//
// Parameters:
//   - ctx: Unused, the map is never blocked on I/O
//   - account: Account the token belongs to
//   - token: Token to store
//
// Returns an error only when token is nil.
func (s *MemoryTokenStorage) SaveToken(_ context.Context, account AccountKey, token *Token) error {
	if token == nil {
		return nilTokenError()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[account] = token.clone()
	return nil
}

// LoadToken returns a copy of the stored token, or nil if none exists.
func (s *MemoryTokenStorage) LoadToken(_ context.Context, account AccountKey) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[account]
	if !ok {
		return nil, nil
	}
	return token.clone(), nil
}

// DeleteToken removes the account's token if present.
func (s *MemoryTokenStorage) DeleteToken(_ context.Context, account AccountKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, account)
	return nil
}

// ListExpiring scans the map for tokens expiring at or before the given instant.
func (s *MemoryTokenStorage) ListExpiring(_ context.Context, before time.Time) ([]AccountKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		account AccountKey
		expiry  time.Time
	}
	var entries []entry
	for account, token := range s.tokens {
		if !token.Expiry.After(before) {
			entries = append(entries, entry{account, token.Expiry})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiry.Before(entries[j].expiry)
	})

	accounts := make([]AccountKey, len(entries))
	for i, e := range entries {
		accounts[i] = e.account
	}
	return accounts, nil
}
