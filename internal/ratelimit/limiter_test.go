package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLimiter(t *testing.T) {
	t.Run("burst defaults to the rate", func(t *testing.T) {
		limiter := NewLimiter(Config{RequestsPerSecond: 2.5})
		assert.Equal(t, 3, limiter.config.Burst)
		assert.Equal(t, 10*time.Minute, limiter.config.IdleTTL)
	})

	t.Run("explicit burst", func(t *testing.T) {
		limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 5, IdleTTL: time.Minute})
		assert.Equal(t, 5, limiter.config.Burst)
		assert.Equal(t, time.Minute, limiter.config.IdleTTL)
	})
}

func TestLimiter_Allow(t *testing.T) {
	t.Run("disabled allows everything", func(t *testing.T) {
		limiter := NewLimiter(Config{})
		for i := 0; i < 100; i++ {
			assert.True(t, limiter.Allow("key"))
		}
	})

	t.Run("burst is enforced per key", func(t *testing.T) {
		limiter := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 2})

		assert.True(t, limiter.Allow("a"))
		assert.True(t, limiter.Allow("a"))
		assert.False(t, limiter.Allow("a"))

		// other keys have their own bucket
		assert.True(t, limiter.Allow("b"))
	})
}

func TestLimiter_HTTPMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.5, Burst: 1})
	handler := limiter.HTTPMiddleware(IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234").Code)

	rec := do("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234").Code)
}

func TestLimiter_HTTPMiddleware_EmptyKeyPasses(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1})
	handler := limiter.HTTPMiddleware(func(*http.Request) string { return "" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestIPBasedKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:4321", "ip:192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", "ip:203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:80", "ip:198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IPBasedKey(req))
		})
	}
}
