package oauth2

import (
	"context"

	"token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
)

// Revoker invalidates an account's token at the provider and deletes it locally
type Revoker struct {
	cfg     Config
	gateway commonhttp.Gateway
	store   TokenStore
	opts    options
}

// NewRevoker validates cfg for API use and returns a Revoker
func NewRevoker(cfg Config, gateway commonhttp.Gateway, store TokenStore, opts ...Option) (*Revoker, error) {
	if err := cfg.ValidateForCallback(); err != nil {
		return nil, err
	}
	if gateway == nil || store == nil {
		return nil, errors.ConfigError("revoker requires a gateway and a token store")
	}
	return &Revoker{cfg: cfg, gateway: gateway, store: store, opts: buildOptions(opts)}, nil
}

// Revoke is idempotent: an account without a token returns nil without calling
// the provider. The local token is deleted only after the provider accepted the
// revocation, so a failed call can be retried.
func (r *Revoker) Revoke(ctx context.Context, account AccountKey) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	logger := r.opts.logger.WithContext(ctx).WithFields(logging.Account(string(account)))

	token, err := r.store.LoadToken(ctx, account)
	if err != nil {
		r.opts.metrics.RecordRevoke(ctx, OutcomeFailure)
		return errors.InternalError("failed to load token", err)
	}
	if token == nil {
		r.opts.metrics.RecordRevoke(ctx, OutcomeAbsent)
		logger.Debug("No token to revoke")
		return nil
	}

	if _, err := post(ctx, r.gateway, r.cfg, pathRevoke, tokenRequest{Token: token.AccessToken}); err != nil {
		r.opts.metrics.RecordRevoke(ctx, OutcomeFailure)
		logger.Warn("Token revocation failed", logging.Err(err))
		return err
	}

	if err := r.store.DeleteToken(ctx, account); err != nil {
		r.opts.metrics.RecordRevoke(ctx, OutcomeFailure)
		logger.Error("Revoked token could not be deleted", err)
		return errors.InternalError("failed to delete token", err)
	}

	r.opts.metrics.RecordRevoke(ctx, OutcomeSuccess)
	logger.Info("Token revoked")
	return nil
}
