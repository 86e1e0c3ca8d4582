package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/cache"
	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/oauth2"
	"token-broker/internal/ratelimit"
)

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type MockExchanger struct {
	mock.Mock
}

func (m *MockExchanger) Exchange(ctx context.Context, account oauth2.AccountKey, temp oauth2.TemporaryToken, state string) (*oauth2.Token, error) {
	args := m.Called(ctx, account, temp, state)
	token, _ := args.Get(0).(*oauth2.Token)
	return token, args.Error(1)
}

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) GetToken(ctx context.Context, account oauth2.AccountKey) (*oauth2.Token, error) {
	args := m.Called(ctx, account)
	token, _ := args.Get(0).(*oauth2.Token)
	return token, args.Error(1)
}

func (m *MockTokenService) Revoke(ctx context.Context, account oauth2.AccountKey) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

type testServer struct {
	handler   http.Handler
	exchanger *MockExchanger
	tokens    *MockTokenService
	states    cache.Cache
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	cfg := oauth2.DefaultConfig()
	cfg.ClientID = "client-1"
	cfg.AuthorizeBaseURL = "https://provider.test/oauth/authorize"
	authorizer, err := oauth2.NewAuthorizer(cfg)
	require.NoError(t, err)

	s := &testServer{
		exchanger: &MockExchanger{},
		tokens:    &MockTokenService{},
		states:    cache.NewLocalCache(time.Minute, time.Minute),
	}
	opts = append([]Option{
		WithLogger(logging.NewNopLogger()),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	s.handler = New(authorizer, s.exchanger, s.tokens, s.states, opts...).Router()

	t.Cleanup(func() {
		s.exchanger.AssertExpectations(t)
		s.tokens.AssertExpectations(t)
	})
	return s
}

func (s *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAuthorize_RedirectsWithState(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/oauth/authorize?account=acct-1&access_level=write")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.test", location.Host)
	assert.Equal(t, "/oauth/authorize", location.Path)

	q := location.Query()
	assert.Equal(t, "client-1", q.Get("clientId"))
	assert.Equal(t, "write", q.Get("accessLevel"))

	state := q.Get("state")
	require.NotEmpty(t, state)
	account, found, err := s.states.Get(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "acct-1", account)
}

func TestAuthorize_DefaultAccessLevel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/oauth/authorize?account=acct-1")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "read", location.Query().Get("accessLevel"))
}

func TestAuthorize_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing account", "/oauth/authorize"},
		{"unknown access level", "/oauth/authorize?account=acct-1&access_level=admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodGet, tt.target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(errors.ErrTypeValidation), decodeError(t, rec).Type)
		})
	}
}

func TestCallback_ExchangesOnce(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.states.Set(context.Background(), "state-1", "acct-1", time.Minute))

	expiry := testNow.Add(time.Hour)
	token := &oauth2.Token{AccessToken: "A1", Expiry: expiry}
	temp := oauth2.TemporaryToken{Value: "tmp-1", ReceivedAt: testNow}
	s.exchanger.On("Exchange", mock.Anything, oauth2.AccountKey("acct-1"), temp, "state-1").
		Return(token, nil).Once()

	rec := s.do(http.MethodGet, "/oauth/callback?temporary_token=tmp-1&state=state-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CallbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acct-1", resp.Account)
	assert.True(t, resp.ExpiresAt.Equal(expiry))
	assert.NotContains(t, rec.Body.String(), "A1")

	// the state has been consumed
	rec = s.do(http.MethodGet, "/oauth/callback?temporary_token=tmp-1&state=state-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown or expired state", decodeError(t, rec).Error)
}

func TestCallback_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing temporary token", "/oauth/callback?state=state-1"},
		{"missing state", "/oauth/callback?temporary_token=tmp-1"},
		{"unknown state", "/oauth/callback?temporary_token=tmp-1&state=nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCallback_ProviderFailure(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.states.Set(context.Background(), "state-1", "acct-1", time.Minute))

	s.exchanger.On("Exchange", mock.Anything, oauth2.AccountKey("acct-1"), mock.Anything, "state-1").
		Return(nil, errors.HTTPError(http.StatusInternalServerError, "server error")).Once()

	rec := s.do(http.MethodGet, "/oauth/callback?temporary_token=tmp-1&state=state-1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, string(errors.ErrTypeHTTP), resp.Type)
	assert.Equal(t, "provider returned status 500", resp.Error)
	assert.NotContains(t, rec.Body.String(), "server error")
}

func TestGetToken(t *testing.T) {
	s := newTestServer(t)
	expiry := testNow.Add(48 * time.Hour)
	s.tokens.On("GetToken", mock.Anything, oauth2.AccountKey("acct-1")).
		Return(&oauth2.Token{AccessToken: "A1", Expiry: expiry, RefreshToken: "R1"}, nil).Once()

	rec := s.do(http.MethodGet, "/api/accounts/acct-1/token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "A1", resp.AccessToken)
	assert.True(t, resp.ExpiresAt.Equal(expiry))
	assert.NotContains(t, rec.Body.String(), "R1")
}

func TestGetToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", errors.NotFoundError("token"), http.StatusNotFound, "token not found"},
		{"protocol", errors.ProtocolError("refresh response is not valid JSON", nil), http.StatusBadGateway, "refresh response is not valid JSON"},
		{"internal", errors.InternalError("failed to save token", stderrors.New("disk full")), http.StatusInternalServerError, "Internal Server Error"},
		{"timeout", errors.TimeoutError("token refresh", context.DeadlineExceeded), http.StatusInternalServerError, "Internal Server Error"},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.tokens.On("GetToken", mock.Anything, oauth2.AccountKey("acct-1")).Return(nil, tt.err).Once()

			rec := s.do(http.MethodGet, "/api/accounts/acct-1/token")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec).Error)
			assert.NotContains(t, rec.Body.String(), "disk full")
		})
	}
}

func TestRevokeToken(t *testing.T) {
	s := newTestServer(t)
	s.tokens.On("Revoke", mock.Anything, oauth2.AccountKey("acct-1")).Return(nil).Once()
	s.tokens.On("Revoke", mock.Anything, oauth2.AccountKey("acct-2")).
		Return(errors.HTTPError(http.StatusBadRequest, "invalid token")).Once()

	rec := s.do(http.MethodDelete, "/api/accounts/acct-1/token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/accounts/acct-2/token")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/accounts/acct-1/token")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t, WithHealthCheck("store", func(context.Context) error { return nil }))
		rec := s.do(http.MethodGet, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "healthy", body["store_status"])
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		s := newTestServer(t,
			WithHealthCheck("store", func(context.Context) error { return nil }),
			WithHealthCheck("redis", func(context.Context) error { return stderrors.New("connection refused") }))
		rec := s.do(http.MethodGet, "/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "healthy", body["store_status"])
		assert.Equal(t, "unhealthy", body["redis_status"])
		assert.Equal(t, "connection refused", body["redis_error"])
	})
}

func TestHealthCheck_Info(t *testing.T) {
	s := newTestServer(t, WithHealthInfo("provider_circuit", func() interface{} {
		return map[string]string{"state": "open"}
	}))
	rec := s.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"state": "open"}, body["provider_circuit"])
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = s.do(http.MethodGet, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimiter(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	s := newTestServer(t, WithRateLimiter(limiter))

	assert.Equal(t, http.StatusFound, s.do(http.MethodGet, "/oauth/authorize?account=acct-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/oauth/authorize?account=acct-1").Code)

	// health is never limited
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health").Code)
}
