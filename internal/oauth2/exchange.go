package oauth2

import (
	"context"

	"token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
)

// Exchanger trades a callback's temporary token for a durable Token and stores it
type Exchanger struct {
	cfg     Config
	gateway commonhttp.Gateway
	store   TokenStore
	opts    options
}

// NewExchanger validates cfg for callback use and returns an Exchanger
func NewExchanger(cfg Config, gateway commonhttp.Gateway, store TokenStore, opts ...Option) (*Exchanger, error) {
	if err := cfg.ValidateForCallback(); err != nil {
		return nil, err
	}
	if gateway == nil || store == nil {
		return nil, errors.ConfigError("exchanger requires a gateway and a token store")
	}
	return &Exchanger{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		opts:    buildOptions(opts),
	}, nil
}

// ExchangeTemporaryToken posts the temporary token and state to the provider,
// builds a Token from the answer and saves it under account. Nothing is saved
// unless the whole exchange succeeds.
func (e *Exchanger) ExchangeTemporaryToken(ctx context.Context, account AccountKey, temporaryToken, state string) (*Token, error) {
	token, err := e.exchange(ctx, account, temporaryToken, state)
	if err != nil {
		e.opts.metrics.RecordExchange(ctx, OutcomeFailure)
		return nil, err
	}
	e.opts.metrics.RecordExchange(ctx, OutcomeSuccess)
	return token, nil
}

// Exchange is ExchangeTemporaryToken for a TemporaryToken received by a callback
func (e *Exchanger) Exchange(ctx context.Context, account AccountKey, temp TemporaryToken, state string) (*Token, error) {
	e.opts.logger.Debug("Exchanging temporary token",
		logging.Account(string(account)),
		logging.Duration("age", e.opts.clock().Sub(temp.ReceivedAt)))
	return e.ExchangeTemporaryToken(ctx, account, temp.Value, state)
}

func (e *Exchanger) exchange(ctx context.Context, account AccountKey, temporaryToken, state string) (*Token, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if temporaryToken == "" {
		return nil, errors.ValidationError("temporary token cannot be empty")
	}
	if state == "" {
		return nil, errors.ValidationError("state cannot be empty")
	}

	logger := e.opts.logger.WithContext(ctx).WithFields(logging.Account(string(account)))

	resp, err := post(ctx, e.gateway, e.cfg, pathGenerateToken, generateTokenRequest{
		TemporaryToken: temporaryToken,
		State:          state,
		RedirectURI:    e.cfg.RedirectURI,
	})
	if err != nil {
		logger.Warn("Token exchange failed", logging.Err(err))
		return nil, err
	}

	parsed, err := parseTokenResponse(resp.Body, true)
	if err != nil {
		logger.Warn("Token exchange returned an unusable response", logging.Err(err))
		return nil, err
	}

	now := e.opts.clock()
	token, err := NewToken(parsed.AccessToken, expiryFrom(now, parsed.ExpiresIn, e.cfg.longLivedWindow()), parsed.RefreshToken, parsed.Extra)
	if err != nil {
		return nil, errors.ProtocolError("token response has no access_token", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.TimeoutError("token exchange", err)
	}
	if err := e.store.SaveToken(ctx, account, token); err != nil {
		logger.Error("Failed to save exchanged token", err)
		return nil, errors.InternalError("failed to save token", err)
	}

	logger.Info("Token exchanged", logging.Time("expiry", token.Expiry))
	return token.clone(), nil
}
