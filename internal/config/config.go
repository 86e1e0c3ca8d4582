// Package config provides configuration management for the token broker.
// It loads configuration from environment variables with sensible defaults
// and validates it so the broker starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//   - INBOUND_RATE_LIMIT: Requests per second per client on /oauth and /api, 0 disables (default: 0)
//   - INBOUND_RATE_BURST: Burst for the inbound limit (default: 10)
//
// Provider Settings:
//   - PROVIDER_CLIENT_ID: OAuth client id (required)
//   - PROVIDER_SECRET_KEY: OAuth secret key (required)
//   - PROVIDER_REDIRECT_URI: Callback URL registered with the provider (required)
//   - PROVIDER_AUTHORIZE_URL: Authorization page URL (default: provider default)
//   - PROVIDER_API_URL: Token API base URL (default: provider default)
//   - PROVIDER_ACCESS_LEVEL: Default access level - read, write or fullAccess (default: read)
//   - PROVIDER_RATE_LIMIT: Outbound requests per second, 0 disables (default: 0)
//   - HTTP_TIMEOUT: Provider request timeout (default: 30s)
//
// Token Lifecycle:
//   - AUTO_REFRESH_THRESHOLD: Refresh tokens this long before expiry (default: 24h)
//   - TOKEN_LIFETIME_FALLBACK: Lifetime assumed when the provider omits expires_in (default: 720h)
//   - REFRESH_SCHEDULE: Proactive refresh schedule in cron syntax, empty disables (default: @every 1m)
//   - STATE_TTL: How long an authorization state stays valid (default: 10m)
//
// Token Store:
//   - TOKEN_STORE: Store type - "memory", "redis", "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./token_broker.db)
//   - POSTGRES_HOST: PostgreSQL host (default: localhost)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (default: token_broker)
//   - POSTGRES_USER: PostgreSQL username (default: postgres)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address; enables shared state and refresh locks when set
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - CONFIG_ENCRYPTION_KEY: Encrypts stored tokens at rest (32 characters if provided)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	oauthCfg := cfg.OAuthConfig()
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"token-broker/internal/oauth2"
	"token-broker/internal/ratelimit"
	"token-broker/internal/redis"
	"token-broker/internal/storage"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration values for the token broker.
// Duration and number fields are kept as strings, as read from the
// environment, and parsed by Validate and the accessor methods.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	LogFile  string // Log file path, empty for stdout
	TLSCert  string // TLS certificate file
	TLSKey   string // TLS private key file

	InboundRateLimit string // Requests per second per client
	InboundRateBurst string // Inbound burst size

	// Provider settings
	ClientID          string // OAuth client id
	SecretKey         string // OAuth secret key
	RedirectURI       string // Registered callback URL
	AuthorizeURL      string // Authorization page URL
	APIURL            string // Token API base URL
	AccessLevel       string // Default access level
	ProviderRateLimit string // Outbound requests per second
	HTTPTimeout       string // Provider request timeout

	// Token lifecycle
	AutoRefreshThreshold  string // Refresh window before expiry
	TokenLifetimeFallback string // Lifetime without expires_in
	RefreshSchedule       string // Cron schedule for proactive refresh
	StateTTL              string // Authorization state lifetime

	// Token store
	TokenStore       string // memory, redis, sqlite or postgres
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for shared state and refresh locks
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Encryption configuration
	EncryptionKey string // Key for encrypting stored tokens
}

// Load creates a new Config with values from environment variables.
// Unset variables take their default. Call Validate on the result.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
		TLSCert:  getEnv("TLS_CERT_FILE", ""),
		TLSKey:   getEnv("TLS_KEY_FILE", ""),

		InboundRateLimit: getEnv("INBOUND_RATE_LIMIT", "0"),
		InboundRateBurst: getEnv("INBOUND_RATE_BURST", "10"),

		ClientID:          getEnv("PROVIDER_CLIENT_ID", ""),
		SecretKey:         getEnv("PROVIDER_SECRET_KEY", ""),
		RedirectURI:       getEnv("PROVIDER_REDIRECT_URI", ""),
		AuthorizeURL:      getEnv("PROVIDER_AUTHORIZE_URL", oauth2.DefaultAuthorizeBaseURL),
		APIURL:            getEnv("PROVIDER_API_URL", oauth2.DefaultAPIBaseURL),
		AccessLevel:       getEnv("PROVIDER_ACCESS_LEVEL", string(oauth2.AccessLevelRead)),
		ProviderRateLimit: getEnv("PROVIDER_RATE_LIMIT", "0"),
		HTTPTimeout:       getEnv("HTTP_TIMEOUT", "30s"),

		AutoRefreshThreshold:  getEnv("AUTO_REFRESH_THRESHOLD", "24h"),
		TokenLifetimeFallback: getEnv("TOKEN_LIFETIME_FALLBACK", "720h"),
		RefreshSchedule:       getEnvAllowEmpty("REFRESH_SCHEDULE", oauth2.DefaultRefreshSchedule),
		StateTTL:              getEnv("STATE_TTL", "10m"),

		TokenStore:       getEnv("TOKEN_STORE", StoreSQLite),
		DatabasePath:     getEnv("DATABASE_PATH", "./token_broker.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "token_broker"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),
	}
}

// getEnv retrieves an environment variable or returns defaultValue if it is unset or empty
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv where an explicitly empty variable is kept
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field requirements.
// Run it after Load and before using the accessors.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if rps, err := strconv.ParseFloat(c.InboundRateLimit, 64); err != nil || rps < 0 {
		return fmt.Errorf("INBOUND_RATE_LIMIT must be a non-negative number")
	}
	if burst, err := strconv.Atoi(c.InboundRateBurst); err != nil || burst < 1 {
		return fmt.Errorf("INBOUND_RATE_BURST must be a positive number")
	}

	if c.ClientID == "" {
		return fmt.Errorf("PROVIDER_CLIENT_ID environment variable is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("PROVIDER_SECRET_KEY environment variable is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("PROVIDER_REDIRECT_URI environment variable is required")
	}
	for name, raw := range map[string]string{
		"PROVIDER_REDIRECT_URI":  c.RedirectURI,
		"PROVIDER_AUTHORIZE_URL": c.AuthorizeURL,
		"PROVIDER_API_URL":       c.APIURL,
	} {
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if !oauth2.AccessLevel(c.AccessLevel).Valid() {
		return fmt.Errorf("PROVIDER_ACCESS_LEVEL must be 'read', 'write' or 'fullAccess'")
	}
	if rps, err := strconv.ParseFloat(c.ProviderRateLimit, 64); err != nil || rps < 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT must be a non-negative number")
	}

	for name, raw := range map[string]string{
		"HTTP_TIMEOUT":            c.HTTPTimeout,
		"TOKEN_LIFETIME_FALLBACK": c.TokenLifetimeFallback,
		"STATE_TTL":               c.StateTTL,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration (e.g., '30s', '10m')", name)
		}
	}
	if d, err := time.ParseDuration(c.AutoRefreshThreshold); err != nil || d < 0 {
		return fmt.Errorf("AUTO_REFRESH_THRESHOLD must be a non-negative duration (e.g., '24h')")
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			return fmt.Errorf("REFRESH_SCHEDULE must be a valid cron schedule: %w", err)
		}
	}

	switch c.TokenStore {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when TOKEN_STORE is redis")
		}
	case StorePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("TOKEN_STORE must be 'memory', 'redis', 'sqlite' or 'postgres'")
	}
	if c.TokenStore == StoreSQLite && c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required when using SQLite")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY must be exactly 32 characters (256 bits) when provided")
	}

	return nil
}

// OAuthConfig builds the provider configuration. Call it after Validate.
func (c *Config) OAuthConfig() oauth2.Config {
	cfg := oauth2.DefaultConfig()
	cfg.ClientID = c.ClientID
	cfg.SecretKey = c.SecretKey
	cfg.RedirectURI = c.RedirectURI
	cfg.AuthorizeBaseURL = c.AuthorizeURL
	cfg.APIBaseURL = c.APIURL
	cfg.DefaultAccessLevel = oauth2.AccessLevel(c.AccessLevel)
	cfg.AutoRefreshThreshold = parseDuration(c.AutoRefreshThreshold)
	cfg.LongLivedWindow = parseDuration(c.TokenLifetimeFallback)
	return cfg
}

// StorageConfig returns the SQL store settings for sqlite and postgres
func (c *Config) StorageConfig() storage.Config {
	if c.TokenStore == StorePostgres {
		return storage.Config{
			Type:     storage.TypePostgres,
			Host:     c.PostgresHost,
			Port:     c.PostgresPort,
			User:     c.PostgresUser,
			Password: c.PostgresPassword,
			Database: c.PostgresDB,
			SSLMode:  c.PostgresSSLMode,
		}
	}
	return storage.Config{Type: storage.TypeSQLite, Path: c.DatabasePath}
}

// RedisConfig returns the Redis connection settings, or nil when Redis is not configured
func (c *Config) RedisConfig() *redis.Config {
	if c.RedisAddress == "" {
		return nil
	}
	db, _ := strconv.Atoi(c.RedisDB)
	poolSize, _ := strconv.Atoi(c.RedisPoolSize)
	return &redis.Config{
		Address:  c.RedisAddress,
		Password: c.RedisPassword,
		DB:       db,
		PoolSize: poolSize,
	}
}

func (c *Config) HTTPTimeoutDuration() time.Duration {
	return parseDuration(c.HTTPTimeout)
}

func (c *Config) StateTTLDuration() time.Duration {
	return parseDuration(c.StateTTL)
}

// RateLimit returns the outbound requests per second, 0 when disabled
func (c *Config) RateLimit() float64 {
	rps, _ := strconv.ParseFloat(c.ProviderRateLimit, 64)
	return rps
}

// InboundRateLimitConfig returns the per-client limit for the broker's own routes
func (c *Config) InboundRateLimitConfig() ratelimit.Config {
	rps, _ := strconv.ParseFloat(c.InboundRateLimit, 64)
	burst, _ := strconv.Atoi(c.InboundRateBurst)
	return ratelimit.Config{RequestsPerSecond: rps, Burst: burst}
}

func parseDuration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}
