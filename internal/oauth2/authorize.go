package oauth2

import (
	"net/url"

	"token-broker/internal/common/errors"
)

// BuildAuthorizationURL returns the provider's authorization page URL with
// clientId, state and accessLevel added to any query the base URL already has.
// The level falls back to cfg.DefaultAccessLevel and then to read.
func BuildAuthorizationURL(cfg Config, state string, level AccessLevel) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if state == "" {
		return "", errors.ValidationError("state cannot be empty")
	}

	resolved, err := resolveAccessLevel(cfg, level)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(cfg.AuthorizeBaseURL)
	if err != nil {
		return "", errors.ConfigError("invalid authorization base url").WithContext("url", cfg.AuthorizeBaseURL)
	}

	q := u.Query()
	q.Set("clientId", cfg.ClientID)
	q.Set("state", state)
	q.Set("accessLevel", string(resolved))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func resolveAccessLevel(cfg Config, level AccessLevel) (AccessLevel, error) {
	switch {
	case level != "":
		if !level.Valid() {
			return "", errors.ValidationError("unknown access level").WithContext("access_level", string(level))
		}
		return level, nil
	case cfg.DefaultAccessLevel != "":
		return cfg.DefaultAccessLevel, nil
	default:
		return AccessLevelRead, nil
	}
}

// Authorizer builds authorization URLs for one validated Config
type Authorizer struct {
	cfg Config
}

// NewAuthorizer validates cfg and returns an Authorizer
func NewAuthorizer(cfg Config) (*Authorizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authorizer{cfg: cfg}, nil
}

// BuildAuthorizationURL builds the redirect with the Authorizer's config
func (a *Authorizer) BuildAuthorizationURL(state string, level AccessLevel) (string, error) {
	return BuildAuthorizationURL(a.cfg, state, level)
}
