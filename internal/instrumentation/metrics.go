// Package instrumentation records token lifecycle metrics with OpenTelemetry.
//
// Metrics are created on a metric.MeterProvider supplied by the caller. Without
// one, a no-op provider is used and recording costs nothing.
package instrumentation

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of every instrument
const MeterName = "token-broker"

// Metrics holds the broker's metric instruments. It satisfies oauth2.MetricsRecorder
// and commonhttp.RequestRecorder.
type Metrics struct {
	exchanges        metric.Int64Counter
	refreshes        metric.Int64Counter
	revocations      metric.Int64Counter
	providerDuration metric.Float64Histogram
}

// NewMetrics registers the instruments on provider. A nil provider means no-op.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(MeterName)

	m := &Metrics{}
	var err error

	m.exchanges, err = meter.Int64Counter(
		"token.exchange.total",
		metric.WithDescription("Temporary token exchanges by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchange.total counter: %w", err)
	}

	m.refreshes, err = meter.Int64Counter(
		"token.refresh.total",
		metric.WithDescription("Token refreshes sent to the provider by outcome and trigger"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refresh.total counter: %w", err)
	}

	m.revocations, err = meter.Int64Counter(
		"token.revoke.total",
		metric.WithDescription("Token revocations by outcome"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoke.total counter: %w", err)
	}

	m.providerDuration, err = meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Provider API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.request.duration histogram: %w", err)
	}

	return m, nil
}

// NewNopMetrics returns Metrics backed by the no-op provider
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordExchange records a temporary token exchange
func (m *Metrics) RecordExchange(ctx context.Context, outcome string) {
	m.exchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordRefresh records a refresh attempt
func (m *Metrics) RecordRefresh(ctx context.Context, outcome, trigger string) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("trigger", trigger),
	))
}

// RecordRevoke records a revocation
func (m *Metrics) RecordRevoke(ctx context.Context, outcome string) {
	m.revocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordProviderRequest records a provider call. status is 0 when no response arrived.
func (m *Metrics) RecordProviderRequest(ctx context.Context, rawURL string, status int, duration time.Duration) {
	m.providerDuration.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("endpoint", endpointName(rawURL)),
		attribute.Int("status", status),
	))
}

// endpointName keeps the last path segment so credentials in the query never
// become attribute values
func endpointName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "unknown"
	}
	return path.Base(u.Path)
}
