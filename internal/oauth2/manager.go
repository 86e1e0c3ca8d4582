package oauth2

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
)

// DefaultRefreshSchedule is the proactive sweep schedule used when none is given
const DefaultRefreshSchedule = "@every 1m"

// Manager hands out valid access tokens, refreshing stale ones on demand.
// Concurrent refreshes of one account share a single provider call, and an
// optional RefreshLocker extends that guarantee across processes.
type Manager struct {
	cfg     Config
	gateway commonhttp.Gateway
	store   TokenStore
	revoker *Revoker
	opts    options

	group     singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight

	cronMu      sync.Mutex
	cron        *cron.Cron
	cronStopped chan struct{}
}

// NewManager validates cfg for API use and returns a Manager
func NewManager(cfg Config, gateway commonhttp.Gateway, store TokenStore, opts ...Option) (*Manager, error) {
	revoker, err := NewRevoker(cfg, gateway, store, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		revoker: revoker,
		opts:    buildOptions(opts),
		flights: make(map[string]*flight),
	}, nil
}

// GetValidAccessToken returns an access token that is not stale, refreshing it first
// if needed. An account without a token yields a NotFound error.
func (m *Manager) GetValidAccessToken(ctx context.Context, account AccountKey) (string, error) {
	token, err := m.GetToken(ctx, account)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// GetToken is GetValidAccessToken returning the whole token
func (m *Manager) GetToken(ctx context.Context, account AccountKey) (*Token, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}

	token, err := m.load(ctx, account)
	if err != nil {
		return nil, err
	}
	if !token.IsStale(m.opts.clock(), m.cfg.AutoRefreshThreshold) {
		return token, nil
	}

	m.opts.logger.WithContext(ctx).Debug("Token is stale, refreshing",
		logging.Account(string(account)),
		logging.Time("expiry", token.Expiry))
	return m.refreshShared(ctx, account, false, TriggerOnDemand)
}

// GetAuthorizationHeader returns "Bearer <access token>"
func (m *Manager) GetAuthorizationHeader(ctx context.Context, account AccountKey) (string, error) {
	accessToken, err := m.GetValidAccessToken(ctx, account)
	if err != nil {
		return "", err
	}
	return "Bearer " + accessToken, nil
}

// Refresh extends the account's token regardless of staleness
func (m *Manager) Refresh(ctx context.Context, account AccountKey) (*Token, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	return m.refreshShared(ctx, account, true, TriggerForced)
}

// Revoke delegates to the Manager's Revoker
func (m *Manager) Revoke(ctx context.Context, account AccountKey) error {
	return m.revoker.Revoke(ctx, account)
}

func (m *Manager) load(ctx context.Context, account AccountKey) (*Token, error) {
	token, err := m.store.LoadToken(ctx, account)
	if err != nil {
		return nil, errors.InternalError("failed to load token", err).WithContext("account", string(account))
	}
	if token == nil {
		return nil, errors.NotFoundError("token").
			WithContext("account", string(account)).
			WithContext("hint", "complete authorization first")
	}
	return token, nil
}

// flight tracks the callers waiting on one shared refresh. The refresh runs
// detached from any single caller and is canceled once none of them is left.
type flight struct {
	waiters map[int]context.Context
	next    int
	cancel  context.CancelFunc
}

func (f *flight) live() bool {
	for _, ctx := range f.waiters {
		if ctx.Err() == nil {
			return true
		}
	}
	return false
}

// refreshShared joins an in-flight refresh of the same account or starts one.
// A caller whose ctx ends stops waiting without failing the others.
func (m *Manager) refreshShared(ctx context.Context, account AccountKey, force bool, trigger string) (*Token, error) {
	key := string(account)
	if force {
		key = "force:" + key
	}

	m.flightsMu.Lock()
	f, ok := m.flights[key]
	if !ok {
		f = &flight{waiters: make(map[int]context.Context)}
		m.flights[key] = f
	}
	id := f.next
	f.next++
	f.waiters[id] = ctx
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.runFlight(ctx, key, f, account, force, trigger)
	})
	m.flightsMu.Unlock()

	select {
	case <-ctx.Done():
		m.leaveFlight(f, id)
		return nil, errors.TimeoutError("token refresh", ctx.Err())
	case res := <-ch:
		m.leaveFlight(f, id)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token).clone(), nil
	}
}

func (m *Manager) leaveFlight(f *flight, id int) {
	m.flightsMu.Lock()
	defer m.flightsMu.Unlock()
	delete(f.waiters, id)
	if f.cancel != nil && !f.live() {
		f.cancel()
	}
}

// runFlight performs the shared refresh on a context that keeps the starting
// caller's values but not its cancellation
func (m *Manager) runFlight(ctx context.Context, key string, f *flight, account AccountKey, force bool, trigger string) (*Token, error) {
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.refreshTimeout)

	m.flightsMu.Lock()
	f.cancel = cancel
	if !f.live() {
		cancel()
	}
	m.flightsMu.Unlock()

	defer func() {
		m.flightsMu.Lock()
		if m.flights[key] == f {
			delete(m.flights, key)
		}
		f.cancel = nil
		m.flightsMu.Unlock()
		cancel()
	}()

	wanted := func() bool {
		m.flightsMu.Lock()
		defer m.flightsMu.Unlock()
		return f.live()
	}
	return m.refreshGuarded(flightCtx, account, force, trigger, wanted)
}

// refreshGuarded refreshes under the optional cross-process lock. wanted reports
// whether any caller still waits; nothing is saved once it turns false.
func (m *Manager) refreshGuarded(ctx context.Context, account AccountKey, force bool, trigger string, wanted func() bool) (*Token, error) {
	logger := m.opts.logger.WithContext(ctx).WithFields(
		logging.Account(string(account)),
		logging.String("trigger", trigger))

	if m.opts.locker != nil {
		release, err := m.opts.locker.LockAccount(ctx, string(account))
		if err != nil {
			m.opts.metrics.RecordRefresh(ctx, OutcomeFailure, trigger)
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release refresh lock", logging.Err(err))
			}
		}()
	}

	// another caller or instance may have refreshed while we waited
	current, err := m.load(ctx, account)
	if err != nil {
		return nil, err
	}
	if !force && !current.IsStale(m.opts.clock(), m.cfg.AutoRefreshThreshold) {
		logger.Debug("Token already refreshed")
		return current, nil
	}

	replacement, err := m.refresh(ctx, current)
	if err != nil {
		m.opts.metrics.RecordRefresh(ctx, OutcomeFailure, trigger)
		logger.Warn("Token refresh failed", logging.Err(err))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		m.opts.metrics.RecordRefresh(ctx, OutcomeFailure, trigger)
		return nil, errors.TimeoutError("token refresh", err)
	}
	if !wanted() {
		m.opts.metrics.RecordRefresh(ctx, OutcomeFailure, trigger)
		return nil, errors.TimeoutError("token refresh", context.Canceled)
	}
	if err := m.store.SaveToken(ctx, account, replacement); err != nil {
		m.opts.metrics.RecordRefresh(ctx, OutcomeFailure, trigger)
		logger.Error("Failed to save refreshed token", err)
		return nil, errors.InternalError("failed to save token", err)
	}

	m.opts.metrics.RecordRefresh(ctx, OutcomeSuccess, trigger)
	logger.Info("Token refreshed", logging.Time("expiry", replacement.Expiry))
	return replacement, nil
}

// refresh asks the provider to extend current. The access token value is kept;
// only the expiry changes.
func (m *Manager) refresh(ctx context.Context, current *Token) (*Token, error) {
	resp, err := post(ctx, m.gateway, m.cfg, pathRefresh, tokenRequest{Token: current.AccessToken})
	if err != nil {
		return nil, err
	}
	parsed, err := parseTokenResponse(resp.Body, false)
	if err != nil {
		return nil, err
	}
	return current.WithExpiry(expiryFrom(m.opts.clock(), parsed.ExpiresIn, m.cfg.longLivedWindow())), nil
}

// TokenSource adapts the Manager to golang.org/x/oauth2. The returned source
// caches the token until it turns stale.
func (m *Manager) TokenSource(ctx context.Context, account AccountKey) xoauth2.TokenSource {
	return xoauth2.ReuseTokenSource(nil, &managerTokenSource{ctx: ctx, manager: m, account: account})
}

type managerTokenSource struct {
	ctx     context.Context
	manager *Manager
	account AccountKey
}

func (s *managerTokenSource) Token() (*xoauth2.Token, error) {
	token, err := s.manager.GetToken(s.ctx, s.account)
	if err != nil {
		return nil, err
	}
	return &xoauth2.Token{
		AccessToken:  token.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: token.RefreshToken,
		// reported early so ReuseTokenSource asks again once the token is stale
		Expiry: token.Expiry.Add(-s.manager.cfg.AutoRefreshThreshold),
	}, nil
}
