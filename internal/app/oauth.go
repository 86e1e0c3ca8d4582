package app

import (
	"token-broker/internal/circuitbreaker"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
	"token-broker/internal/oauth2"
)

// initializeGateway builds the provider client: timeout, circuit breaker,
// optional rate limit and request metrics
func (app *App) initializeGateway() {
	httpClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(app.Config.HTTPTimeoutDuration()))
	breaker := circuitbreaker.NewGoBreaker("provider-api", circuitbreaker.ProviderConfig, app.Logger)
	app.Breaker = breaker

	rps := app.Config.RateLimit()
	app.Gateway = commonhttp.NewClient(httpClient,
		commonhttp.WithCircuitBreaker(breaker),
		commonhttp.WithRateLimit(rps, int(rps)+1),
		commonhttp.WithRecorder(app.Metrics),
		commonhttp.WithLogger(app.Logger),
	)

	if rps > 0 {
		app.Logger.Info("Provider rate limiting: Enabled", logging.Field{Key: "requests_per_second", Value: rps})
	}
}

func (app *App) initializeOAuth() error {
	opts := []oauth2.Option{
		oauth2.WithLogger(app.Logger),
		oauth2.WithMetrics(app.Metrics),
		// room for the lock wait plus one provider call
		oauth2.WithRefreshTimeout(2 * app.Config.HTTPTimeoutDuration()),
	}
	if app.Locks != nil {
		opts = append(opts, oauth2.WithRefreshLocker(app.Locks))
	}

	authorizer, err := oauth2.NewAuthorizer(app.OAuthConfig)
	if err != nil {
		return err
	}
	exchanger, err := oauth2.NewExchanger(app.OAuthConfig, app.Gateway, app.TokenStore, opts...)
	if err != nil {
		return err
	}
	manager, err := oauth2.NewManager(app.OAuthConfig, app.Gateway, app.TokenStore, opts...)
	if err != nil {
		return err
	}

	app.Authorizer = authorizer
	app.Exchanger = exchanger
	app.Manager = manager

	app.Logger.Info("OAuth2 manager initialized",
		logging.String("api", app.OAuthConfig.APIBaseURL),
		logging.Duration("refresh_threshold", app.OAuthConfig.AutoRefreshThreshold))
	return nil
}
