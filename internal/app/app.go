// Package app wires configuration, stores, the token lifecycle manager and the
// HTTP surface into a running broker.
package app

import (
	"context"

	"go.opentelemetry.io/otel"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/cache"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/instrumentation"
	"token-broker/internal/locks"
	"token-broker/internal/oauth2"
	"token-broker/internal/redis"
	"token-broker/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	OAuthConfig oauth2.Config
	Logger      logging.Logger

	RedisClient *redis.Client
	Locks       *locks.RedsyncManager
	SQLStore    *storage.SQLStore
	TokenStore  oauth2.TokenStore
	States      cache.Cache

	Metrics    *instrumentation.Metrics
	Gateway    *commonhttp.Client
	Breaker    *circuitbreaker.GoBreakerAdapter
	Authorizer *oauth2.Authorizer
	Exchanger  *oauth2.Exchanger
	Manager    *oauth2.Manager
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:      cfg,
		OAuthConfig: cfg.OAuthConfig(),
		Logger:      logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	metrics, err := instrumentation.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}
	app.Metrics = metrics

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeStates(); err != nil {
		app.Cleanup()
		return nil, err
	}
	app.initializeGateway()
	if err := app.initializeOAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Manager != nil {
		app.Manager.Close()
	}
	if app.Locks != nil {
		app.Locks.Close()
	}
	if app.SQLStore != nil {
		if err := app.SQLStore.Close(); err != nil {
			app.Logger.Warn("Error closing token database", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
