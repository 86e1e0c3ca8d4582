package oauth2

import (
	"net/url"
	"strings"
	"time"

	"token-broker/internal/common/errors"
)

// AccessLevel is the permission scope requested in the authorization redirect
type AccessLevel string

const (
	AccessLevelRead       AccessLevel = "read"
	AccessLevelWrite      AccessLevel = "write"
	AccessLevelFullAccess AccessLevel = "fullAccess"
)

// Valid reports whether l is one of the levels the provider understands
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessLevelRead, AccessLevelWrite, AccessLevelFullAccess:
		return true
	}
	return false
}

const (
	DefaultAuthorizeBaseURL     = "https://app.provider.example/oauth/authorize"
	DefaultAPIBaseURL           = "https://api.provider.example/v1"
	DefaultAutoRefreshThreshold = 24 * time.Hour
	// DefaultLongLivedWindow is the lifetime assumed when the provider does not
	// declare one in its response.
	DefaultLongLivedWindow = 30 * 24 * time.Hour
)

// Provider API paths under APIBaseURL
const (
	pathGenerateToken = "generate-token"
	pathRefresh       = "refresh"
	pathRevoke        = "revoke"
)

// Config holds the provider parameters. It is copied into every component at
// construction and never modified afterwards.
type Config struct {
	ClientID    string `json:"client_id"`
	SecretKey   string `json:"-"`
	RedirectURI string `json:"redirect_uri"`

	AuthorizeBaseURL string `json:"authorize_base_url"`
	APIBaseURL       string `json:"api_base_url"`

	// DefaultAccessLevel is used when the caller does not ask for one. Empty means read.
	DefaultAccessLevel AccessLevel `json:"default_access_level,omitempty"`

	// AutoRefreshThreshold is how long before expiry a token counts as stale
	AutoRefreshThreshold time.Duration `json:"auto_refresh_threshold"`
	// LongLivedWindow is the lifetime assumed when the provider omits expires_in.
	// Zero means DefaultLongLivedWindow.
	LongLivedWindow time.Duration `json:"long_lived_window"`
}

// DefaultConfig returns a Config with the documented provider URLs and thresholds.
// Client credentials still have to be filled in.
func DefaultConfig() Config {
	return Config{
		AuthorizeBaseURL:     DefaultAuthorizeBaseURL,
		APIBaseURL:           DefaultAPIBaseURL,
		AutoRefreshThreshold: DefaultAutoRefreshThreshold,
		LongLivedWindow:      DefaultLongLivedWindow,
	}
}

// NewConfig returns DefaultConfig with the client credentials set, validated
// for callback use
func NewConfig(clientID, secretKey, redirectURI string) (Config, error) {
	cfg := DefaultConfig()
	cfg.ClientID = clientID
	cfg.SecretKey = secretKey
	cfg.RedirectURI = redirectURI
	if err := cfg.ValidateForCallback(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields needed to build an authorization URL
func (c Config) Validate() error {
	if c.ClientID == "" {
		return errors.ConfigError("client id is required")
	}
	if c.AuthorizeBaseURL == "" {
		return errors.ConfigError("authorization base url is required")
	}
	if err := validateAbsoluteURL("authorization base url", c.AuthorizeBaseURL); err != nil {
		return err
	}
	if c.DefaultAccessLevel != "" && !c.DefaultAccessLevel.Valid() {
		return errors.ConfigError("unknown default access level").WithContext("access_level", string(c.DefaultAccessLevel))
	}
	if c.AutoRefreshThreshold < 0 {
		return errors.ConfigError("auto refresh threshold cannot be negative")
	}
	if c.LongLivedWindow < 0 {
		return errors.ConfigError("long lived window cannot be negative")
	}
	return nil
}

// ValidateForCallback additionally checks the fields needed to talk to the provider API
func (c Config) ValidateForCallback() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.SecretKey == "" {
		return errors.ConfigError("secret key is required")
	}
	if c.RedirectURI == "" {
		return errors.ConfigError("redirect uri is required")
	}
	if c.APIBaseURL == "" {
		return errors.ConfigError("api base url is required")
	}
	return validateAbsoluteURL("api base url", c.APIBaseURL)
}

// Endpoint joins APIBaseURL and path
func (c Config) Endpoint(path string) string {
	return strings.TrimRight(c.APIBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c Config) longLivedWindow() time.Duration {
	if c.LongLivedWindow <= 0 {
		return DefaultLongLivedWindow
	}
	return c.LongLivedWindow
}

func (c Config) apiHeaders() map[string]string {
	return map[string]string{
		"X-Client-Id":  c.ClientID,
		"X-Secret-Key": c.SecretKey,
	}
}

func validateAbsoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.ConfigError(name+" must be an absolute url").WithContext("url", raw)
	}
	return nil
}
