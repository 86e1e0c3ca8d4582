package app

import (
	"context"
	"net/http"

	"token-broker/internal/common/logging"
	"token-broker/internal/handlers"
	"token-broker/internal/ratelimit"
	"token-broker/internal/server"
)

// Handler builds the broker's HTTP handler
func (app *App) Handler() http.Handler {
	opts := []handlers.Option{
		handlers.WithLogger(app.Logger.WithFields(logging.Field{Key: "component", Value: "http"})),
		handlers.WithStateTTL(app.Config.StateTTLDuration()),
	}
	if limit := app.Config.InboundRateLimitConfig(); limit.Enabled() {
		opts = append(opts, handlers.WithRateLimiter(ratelimit.NewLimiter(limit)))
	}
	if app.Breaker != nil {
		opts = append(opts, handlers.WithHealthInfo("provider_circuit", func() interface{} { return app.Breaker.Stats() }))
	}
	if app.SQLStore != nil {
		opts = append(opts, handlers.WithHealthCheck("database", app.SQLStore.Health))
	}
	if app.RedisClient != nil {
		opts = append(opts, handlers.WithHealthCheck("redis", app.RedisClient.Health))
	}

	h := handlers.New(app.Authorizer, app.Exchanger, app.Manager, app.States, opts...)
	return h.Router()
}

// RunServer creates the HTTP server for the broker
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCert, app.Config.TLSKey, app.Logger)
}

// StartSweeper starts proactive refresh on the configured schedule. An empty
// schedule leaves refresh on demand only.
func (app *App) StartSweeper(ctx context.Context) error {
	schedule := app.Config.RefreshSchedule
	if schedule == "" {
		app.Logger.Info("Proactive token refresh: Disabled")
		return nil
	}
	if err := app.Manager.StartProactiveRefresh(ctx, schedule); err != nil {
		return err
	}
	app.Logger.Info("Proactive token refresh: Enabled", logging.String("schedule", schedule))
	return nil
}
