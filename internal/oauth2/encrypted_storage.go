package oauth2

import (
	"context"
	"time"

	"token-broker/internal/common/errors"
)

// Encryptor seals secrets at rest. crypto.ConfigEncryptor implements it.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EncryptedTokenStorage encrypts the access and refresh tokens before they reach
// the wrapped store. Expiry and extras stay readable so expiry listing keeps working.
type EncryptedTokenStorage struct {
	inner     TokenStore
	encryptor Encryptor
}

// NewEncryptedTokenStorage wraps inner
func NewEncryptedTokenStorage(inner TokenStore, encryptor Encryptor) *EncryptedTokenStorage {
	return &EncryptedTokenStorage{inner: inner, encryptor: encryptor}
}

// Unwrap returns the wrapped store
func (s *EncryptedTokenStorage) Unwrap() TokenStore {
	return s.inner
}

func (s *EncryptedTokenStorage) SaveToken(ctx context.Context, account AccountKey, token *Token) error {
	if token == nil {
		return nilTokenError()
	}
	sealed := token.clone()

	var err error
	if sealed.AccessToken, err = s.encryptor.Encrypt(token.AccessToken); err != nil {
		return errors.InternalError("failed to encrypt access token", err)
	}
	if sealed.RefreshToken, err = s.encryptor.Encrypt(token.RefreshToken); err != nil {
		return errors.InternalError("failed to encrypt refresh token", err)
	}
	return s.inner.SaveToken(ctx, account, sealed)
}

func (s *EncryptedTokenStorage) LoadToken(ctx context.Context, account AccountKey) (*Token, error) {
	sealed, err := s.inner.LoadToken(ctx, account)
	if err != nil || sealed == nil {
		return nil, err
	}

	token := sealed.clone()
	if token.AccessToken, err = s.encryptor.Decrypt(sealed.AccessToken); err != nil {
		return nil, errors.InternalError("failed to decrypt access token", err).WithContext("account", string(account))
	}
	if token.RefreshToken, err = s.encryptor.Decrypt(sealed.RefreshToken); err != nil {
		return nil, errors.InternalError("failed to decrypt refresh token", err).WithContext("account", string(account))
	}
	return token, nil
}

func (s *EncryptedTokenStorage) DeleteToken(ctx context.Context, account AccountKey) error {
	return s.inner.DeleteToken(ctx, account)
}

// ListExpiring delegates to the wrapped store when it keeps an expiry index
func (s *EncryptedTokenStorage) ListExpiring(ctx context.Context, before time.Time) ([]AccountKey, error) {
	index, ok := s.inner.(ExpiryIndex)
	if !ok {
		return nil, errors.ConfigError("wrapped token store cannot list by expiry")
	}
	return index.ListExpiring(ctx, before)
}
