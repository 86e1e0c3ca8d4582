// Package handlers exposes the broker over HTTP: the authorization redirect, the
// provider callback, token lookup and revocation.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"token-broker/internal/common/cache"
	"token-broker/internal/common/logging"
	"token-broker/internal/middleware"
	"token-broker/internal/oauth2"
	"token-broker/internal/ratelimit"
)

// DefaultStateTTL is how long an authorization state stays redeemable
const DefaultStateTTL = 10 * time.Minute

// TokenExchanger completes an authorization callback
type TokenExchanger interface {
	Exchange(ctx context.Context, account oauth2.AccountKey, temp oauth2.TemporaryToken, state string) (*oauth2.Token, error)
}

// TokenService hands out and revokes stored tokens
type TokenService interface {
	GetToken(ctx context.Context, account oauth2.AccountKey) (*oauth2.Token, error)
	Revoke(ctx context.Context, account oauth2.AccountKey) error
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// HealthInfo reports state shown by /health that never makes it unhealthy
type HealthInfo func() interface{}

type Handlers struct {
	authorizer *oauth2.Authorizer
	exchanger  TokenExchanger
	tokens     TokenService
	states     cache.Cache
	stateTTL   time.Duration
	checks     map[string]HealthCheck
	info       map[string]HealthInfo
	limiter    *ratelimit.Limiter
	clock      func() time.Time
	logger     logging.Logger
}

// Option configures Handlers
type Option func(*Handlers)

// WithStateTTL sets how long an authorization state stays valid
func WithStateTTL(ttl time.Duration) Option {
	return func(h *Handlers) {
		if ttl > 0 {
			h.stateTTL = ttl
		}
	}
}

// WithHealthCheck adds a named dependency to /health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handlers) {
		h.checks[name] = check
	}
}

// WithHealthInfo adds a named informational entry to /health
func WithHealthInfo(name string, info HealthInfo) Option {
	return func(h *Handlers) {
		h.info[name] = info
	}
}

// WithRateLimiter limits the OAuth and API routes per client address
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(h *Handlers) {
		h.limiter = limiter
	}
}

// WithLogger sets the request logger
func WithLogger(logger logging.Logger) Option {
	return func(h *Handlers) {
		h.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(h *Handlers) {
		h.clock = clock
	}
}

func New(authorizer *oauth2.Authorizer, exchanger TokenExchanger, tokens TokenService, states cache.Cache, opts ...Option) *Handlers {
	h := &Handlers{
		authorizer: authorizer,
		exchanger:  exchanger,
		tokens:     tokens,
		states:     states,
		stateTTL:   DefaultStateTTL,
		checks:     make(map[string]HealthCheck),
		info:       make(map[string]HealthInfo),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrGlobal(h.logger)
	return h
}

// Router builds the mux router with every route registered
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the broker routes and middleware to r
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.Use(middleware.RequestID, middleware.Logging(h.logger), accountContext)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	oauth := r.PathPrefix("/oauth").Subrouter()
	oauth.HandleFunc("/authorize", h.Authorize).Methods(http.MethodGet)
	oauth.HandleFunc("/callback", h.Callback).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/accounts/{account}/token", h.GetToken).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/token", h.RevokeToken).Methods(http.MethodDelete)

	if h.limiter != nil {
		limit := h.limiter.HTTPMiddleware(ratelimit.IPBasedKey)
		oauth.Use(limit)
		api.Use(limit)
	}
}

// accountContext tags the request context with the account route variable
func accountContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account := mux.Vars(r)["account"]; account != "" {
			r = r.WithContext(logging.ContextWithAccount(r.Context(), account))
		}
		next.ServeHTTP(w, r)
	})
}
