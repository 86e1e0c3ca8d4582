// Package ratelimit limits inbound requests per client with token buckets from
// golang.org/x/time/rate. Idle clients are forgotten after IdleTTL.
package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	IdleTTL           time.Duration `json:"idle_ttl"`
}

// Enabled reports whether any limiting applies
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Limiter keeps one token bucket per key
type Limiter struct {
	config  Config
	buckets *gocache.Cache
	mu      sync.Mutex
}

// NewLimiter creates a Limiter. A burst below 1 becomes the ceiling of the rate.
func NewLimiter(config Config) *Limiter {
	if config.Burst < 1 {
		config.Burst = int(math.Ceil(config.RequestsPerSecond))
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}

	return &Limiter{
		config:  config,
		buckets: gocache.New(config.IdleTTL, config.IdleTTL),
	}
}

// Allow takes one token from key's bucket
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled() {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		// Touch to extend the idle expiry
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	b := rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
	l.buckets.SetDefault(key, b)
	return b
}

// HTTPMiddleware rejects requests over the limit with 429. Requests without a
// key pass through.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.Burst))
			if !l.Allow(key) {
				retryAfter := int(math.Ceil(1 / l.config.RequestsPerSecond))
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys requests by client address, preferring proxy headers
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// First hop is the client
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return fmt.Sprintf("ip:%s", ip)
}
