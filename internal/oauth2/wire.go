package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
)

type generateTokenRequest struct {
	TemporaryToken string `json:"temporary_token"`
	State          string `json:"state"`
	RedirectURI    string `json:"redirect_uri"`
}

// tokenRequest is the body of refresh and revoke calls
type tokenRequest struct {
	Token string `json:"token"`
}

// tokenResponse is the flat provider answer. Anything not named here is kept in extra.
type tokenResponse struct {
	AccessToken  string
	ExpiresIn    int64 // seconds, 0 when absent
	RefreshToken string
	Extra        map[string]json.RawMessage
}

var knownResponseFields = map[string]struct{}{
	"access_token":  {},
	"expires_in":    {},
	"refresh_token": {},
}

// parseTokenResponse decodes a provider response body. An empty body is accepted
// only when requireAccessToken is false.
func parseTokenResponse(body []byte, requireAccessToken bool) (*tokenResponse, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		if requireAccessToken {
			return nil, errors.ProtocolError("empty token response", nil)
		}
		return &tokenResponse{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.ProtocolError("token response is not a JSON object", err)
	}

	resp := &tokenResponse{}

	if raw, ok := fields["access_token"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &resp.AccessToken); err != nil {
			return nil, errors.ProtocolError("access_token is not a string", err)
		}
	}
	if requireAccessToken && resp.AccessToken == "" {
		return nil, errors.ProtocolError("token response has no access_token", nil)
	}

	if raw, ok := fields["refresh_token"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &resp.RefreshToken); err != nil {
			return nil, errors.ProtocolError("refresh_token is not a string", err)
		}
	}

	if raw, ok := fields["expires_in"]; ok && !isNull(raw) {
		seconds, err := parseSeconds(raw)
		if err != nil {
			return nil, err
		}
		resp.ExpiresIn = seconds
	}

	for k, v := range fields {
		if _, known := knownResponseFields[k]; known {
			continue
		}
		if resp.Extra == nil {
			resp.Extra = make(map[string]json.RawMessage)
		}
		resp.Extra[k] = v
	}

	return resp, nil
}

// maxExpiresIn is the largest lifetime a time.Duration can hold, in seconds
const maxExpiresIn = math.MaxInt64 / int64(time.Second)

// parseSeconds accepts a JSON number or a numeric string
func parseSeconds(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.ProtocolError("expires_in is not a number", err)
		}
		n = json.Number(s)
	}
	seconds, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, errors.ProtocolError("expires_in is not a number", err)
		}
		if f < 0 {
			return 0, errors.ProtocolError("expires_in cannot be negative", nil)
		}
		if f > float64(maxExpiresIn) {
			return 0, errors.ProtocolError("expires_in is out of range", nil)
		}
		seconds = int64(f)
	}
	if seconds < 0 {
		return 0, errors.ProtocolError("expires_in cannot be negative", nil)
	}
	if seconds > maxExpiresIn {
		return 0, errors.ProtocolError("expires_in is out of range", nil)
	}
	return seconds, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// expiryFrom is now + expiresIn seconds, or now + fallback when the provider
// declared no lifetime
func expiryFrom(now time.Time, expiresIn int64, fallback time.Duration) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	return now.Add(fallback)
}

// post sends body to the provider endpoint and turns non-2xx statuses into HTTP errors
func post(ctx context.Context, gateway commonhttp.Gateway, cfg Config, path string, body any) (*commonhttp.Response, error) {
	resp, err := gateway.PostJSON(ctx, cfg.Endpoint(path), cfg.apiHeaders(), body)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, errors.HTTPError(resp.StatusCode, string(resp.Body)).WithContext("endpoint", path)
	}
	return resp, nil
}
