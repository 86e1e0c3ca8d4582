package oauth2

import (
	"encoding/json"
	"time"

	"token-broker/internal/common/errors"
)

// AccountKey identifies the tenant a credential belongs to. It is opaque.
type AccountKey string

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

// Token is the durable credential issued after authorization.
// Tokens are never modified in place: a refresh produces a new Token
// that replaces the stored one.
type Token struct {
	AccessToken  string    `json:"access_token"`
	Expiry       time.Time `json:"expiry"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	// Extra holds provider fields beyond the ones above, as raw JSON values
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// NewToken creates a Token. The access token must not be empty.
func NewToken(accessToken string, expiry time.Time, refreshToken string, extra map[string]json.RawMessage) (*Token, error) {
	if accessToken == "" {
		return nil, errors.ValidationError("access token cannot be empty")
	}
	return &Token{
		AccessToken:  accessToken,
		Expiry:       expiry,
		RefreshToken: refreshToken,
		Extra:        cloneExtra(extra),
	}, nil
}

// WithExpiry returns a copy of the token that expires at expiry
func (t *Token) WithExpiry(expiry time.Time) *Token {
	c := t.clone()
	c.Expiry = expiry
	return c
}

// IsStale reports whether now >= Expiry - threshold. The boundary counts as stale.
func (t *Token) IsStale(now time.Time, threshold time.Duration) bool {
	return !now.Before(t.Expiry.Add(-threshold))
}

// Remaining returns the validity left at now, negative once expired
func (t *Token) Remaining(now time.Time) time.Duration {
	return t.Expiry.Sub(now)
}

func (t *Token) clone() *Token {
	c := *t
	c.Extra = cloneExtra(t.Extra)
	return &c
}

// IsStale is the staleness rule as a function: now >= expiry - threshold
func IsStale(token *Token, now time.Time, threshold time.Duration) bool {
	return token.IsStale(now, threshold)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if len(extra) == 0 {
		return nil
	}
	c := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		c[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// TemporaryToken is the short-lived value delivered to the authorization
// callback. It is exchanged once and never stored.
type TemporaryToken struct {
	Value      string
	ReceivedAt time.Time
}

// NewTemporaryToken records a callback token received at now
func NewTemporaryToken(value string, now time.Time) (TemporaryToken, error) {
	if value == "" {
		return TemporaryToken{}, errors.ValidationError("temporary token cannot be empty")
	}
	return TemporaryToken{Value: value, ReceivedAt: now}, nil
}
