package oauth2

import (
	"context"
	"time"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// Metric outcomes and refresh triggers
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAbsent  = "absent"

	TriggerOnDemand  = "on_demand"
	TriggerForced    = "forced"
	TriggerProactive = "proactive"
)

// MetricsRecorder receives token lifecycle events
type MetricsRecorder interface {
	RecordExchange(ctx context.Context, outcome string)
	RecordRefresh(ctx context.Context, outcome, trigger string)
	RecordRevoke(ctx context.Context, outcome string)
}

// RefreshLocker serializes refreshes of one account across processes.
// The returned function releases the lock.
type RefreshLocker interface {
	LockAccount(ctx context.Context, account string) (func(context.Context) error, error)
}

type nopMetrics struct{}

func (nopMetrics) RecordExchange(context.Context, string)        {}
func (nopMetrics) RecordRefresh(context.Context, string, string) {}
func (nopMetrics) RecordRevoke(context.Context, string)          {}

type options struct {
	clock   Clock
	logger  logging.Logger
	metrics MetricsRecorder
	locker  RefreshLocker

	refreshTimeout time.Duration
}

// Option configures an Exchanger, Manager or Revoker
type Option func(*options)

// WithClock replaces time.Now
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger, the global logger is used otherwise
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the lifecycle event recorder
func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithRefreshLocker adds a cross-process lock around refreshes. Only the Manager uses it.
func WithRefreshLocker(locker RefreshLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithRefreshTimeout bounds a shared refresh, which outlives the caller that
// started it. Only the Manager uses it.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.refreshTimeout = timeout
		}
	}
}

// DefaultRefreshTimeout bounds a shared refresh when WithRefreshTimeout is not given
const DefaultRefreshTimeout = time.Minute

func buildOptions(opts []Option) options {
	o := options{
		clock:          time.Now,
		metrics:        nopMetrics{},
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrGlobal(o.logger)
	return o
}

func validateAccount(account AccountKey) error {
	if account == "" {
		return errors.ValidationError("account key cannot be empty")
	}
	return nil
}
