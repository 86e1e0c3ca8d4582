package oauth2

import (
	"encoding/json"
	"testing"
	"time"

	"token-broker/internal/common/errors"
)

func TestToken_IsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 24 * time.Hour

	tests := []struct {
		name     string
		expiry   time.Time
		expected bool
	}{
		{
			name:     "well before threshold is fresh",
			expiry:   now.Add(48 * time.Hour),
			expected: false,
		},
		{
			name:     "one second before the boundary is fresh",
			expiry:   now.Add(threshold + time.Second),
			expected: false,
		},
		{
			name:     "exactly at the boundary is stale",
			expiry:   now.Add(threshold),
			expected: true,
		},
		{
			name:     "inside the threshold is stale",
			expiry:   now.Add(time.Hour),
			expected: true,
		},
		{
			name:     "already expired is stale",
			expiry:   now.Add(-time.Hour),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := &Token{AccessToken: "tok", Expiry: tt.expiry}
			if got := token.IsStale(now, threshold); got != tt.expected {
				t.Errorf("IsStale() = %v, expected %v", got, tt.expected)
			}
			if got := IsStale(token, now, threshold); got != tt.expected {
				t.Errorf("package IsStale() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestToken_IsStale_ZeroThreshold(t *testing.T) {
	now := time.Now()
	token := &Token{AccessToken: "tok", Expiry: now}
	if !token.IsStale(now, 0) {
		t.Error("expected token expiring now to be stale with zero threshold")
	}
	if token.IsStale(now.Add(-time.Nanosecond), 0) {
		t.Error("expected token to be fresh just before expiry")
	}
}

func TestNewToken(t *testing.T) {
	if _, err := NewToken("", time.Now(), "", nil); !errors.IsType(err, errors.ErrTypeValidation) {
		t.Fatalf("expected validation error for empty access token, got %v", err)
	}

	extra := map[string]json.RawMessage{"user": json.RawMessage(`{"id":7}`)}
	token, err := NewToken("tok", time.Unix(100, 0), "rt", extra)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	extra["user"][0] = 'X'
	if string(token.Extra["user"]) != `{"id":7}` {
		t.Errorf("token extras share memory with the caller: %s", token.Extra["user"])
	}
}

func TestToken_WithExpiry(t *testing.T) {
	original := &Token{
		AccessToken:  "tok",
		Expiry:       time.Unix(100, 0),
		RefreshToken: "rt",
		Extra:        map[string]json.RawMessage{"k": json.RawMessage(`"v"`)},
	}

	updated := original.WithExpiry(time.Unix(200, 0))

	if updated == original {
		t.Fatal("expected a new token")
	}
	if !original.Expiry.Equal(time.Unix(100, 0)) {
		t.Errorf("original expiry changed to %v", original.Expiry)
	}
	if !updated.Expiry.Equal(time.Unix(200, 0)) {
		t.Errorf("expected expiry 200, got %v", updated.Expiry)
	}
	if updated.AccessToken != "tok" || updated.RefreshToken != "rt" {
		t.Errorf("credentials not carried over: %+v", updated)
	}
	if string(updated.Extra["k"]) != `"v"` {
		t.Errorf("extras not carried over: %v", updated.Extra)
	}

	updated.Extra["k"] = json.RawMessage(`"changed"`)
	if string(original.Extra["k"]) != `"v"` {
		t.Error("copy shares extras with the original")
	}
}

func TestToken_Remaining(t *testing.T) {
	now := time.Now()
	token := &Token{AccessToken: "tok", Expiry: now.Add(90 * time.Minute)}
	if got := token.Remaining(now); got != 90*time.Minute {
		t.Errorf("Remaining() = %v, expected 90m", got)
	}
	if got := token.Remaining(now.Add(2 * time.Hour)); got >= 0 {
		t.Errorf("expected negative remaining after expiry, got %v", got)
	}
}

func TestNewTemporaryToken(t *testing.T) {
	now := time.Now()
	temp, err := NewTemporaryToken("tmp-1", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if temp.Value != "tmp-1" || !temp.ReceivedAt.Equal(now) {
		t.Errorf("unexpected temporary token %+v", temp)
	}

	if _, err := NewTemporaryToken("", now); !errors.IsType(err, errors.ErrTypeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
