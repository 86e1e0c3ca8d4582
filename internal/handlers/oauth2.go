package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/oauth2"
)

// CallbackResponse is returned once an account is authorized
type CallbackResponse struct {
	Account   string    `json:"account"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenResponse carries a valid access token
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authorize starts authorization for ?account= and redirects to the provider.
// The generated state is remembered so the callback can find the account.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := r.URL.Query().Get("account")
	if account == "" {
		h.sendJSONError(w, r, errors.ValidationError("account is required"), "Authorization rejected")
		return
	}
	level := oauth2.AccessLevel(r.URL.Query().Get("access_level"))

	state := uuid.NewString()
	redirectURL, err := h.authorizer.BuildAuthorizationURL(state, level)
	if err != nil {
		h.sendJSONError(w, r, err, "Failed to build authorization URL")
		return
	}

	if err := h.states.Set(ctx, state, account, h.stateTTL); err != nil {
		h.sendJSONError(w, r, errors.InternalError("failed to save authorization state", err), "Failed to save authorization state")
		return
	}

	h.logger.WithContext(ctx).Info("Authorization started",
		logging.Account(account),
		logging.String("access_level", string(level)))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Callback receives the provider redirect and exchanges the temporary token.
// A state is redeemable once.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	state := q.Get("state")

	temp, err := oauth2.NewTemporaryToken(q.Get("temporary_token"), h.clock())
	if err != nil {
		h.sendJSONError(w, r, err, "Callback rejected")
		return
	}
	if state == "" {
		h.sendJSONError(w, r, errors.ValidationError("state is required"), "Callback rejected")
		return
	}

	account, found, err := h.states.Take(ctx, state)
	if err != nil {
		h.sendJSONError(w, r, errors.InternalError("failed to read authorization state", err), "Failed to read authorization state")
		return
	}
	if !found {
		h.sendJSONError(w, r, errors.ValidationError("unknown or expired state"), "Callback rejected")
		return
	}

	ctx = logging.ContextWithAccount(ctx, account)
	token, err := h.exchanger.Exchange(ctx, oauth2.AccountKey(account), temp, state)
	if err != nil {
		h.sendJSONError(w, r.WithContext(ctx), err, "Token exchange failed")
		return
	}

	h.sendJSONResponse(w, http.StatusOK, CallbackResponse{Account: account, ExpiresAt: token.Expiry})
}

// GetToken returns a valid access token for the account, refreshing it if stale
func (h *Handlers) GetToken(w http.ResponseWriter, r *http.Request) {
	account := oauth2.AccountKey(mux.Vars(r)["account"])

	token, err := h.tokens.GetToken(r.Context(), account)
	if err != nil {
		h.sendJSONError(w, r, err, "Failed to get token")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.sendJSONResponse(w, http.StatusOK, TokenResponse{AccessToken: token.AccessToken, ExpiresAt: token.Expiry})
}

// RevokeToken revokes the account's token. Accounts without a token succeed too.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	account := oauth2.AccountKey(mux.Vars(r)["account"])

	if err := h.tokens.Revoke(r.Context(), account); err != nil {
		h.sendJSONError(w, r, err, "Failed to revoke token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
