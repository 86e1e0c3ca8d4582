package oauth2

import (
	"context"

	"github.com/robfig/cron/v3"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// StartProactiveRefresh refreshes tokens that are about to turn stale on the given
// cron schedule, so callers rarely wait on the provider. The store must keep an
// ExpiryIndex. The sweeper stops when ctx ends or Close is called.
func (m *Manager) StartProactiveRefresh(ctx context.Context, schedule string) error {
	index, ok := expiryIndexOf(m.store)
	if !ok {
		return errors.ConfigError("token store cannot list tokens by expiry")
	}
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}

	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return errors.ConfigError("proactive refresh already started")
	}

	cronLog := cronLogger{logger: m.opts.logger}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(schedule, func() { m.sweep(ctx, index) }); err != nil {
		return errors.ConfigError("invalid refresh schedule").WithContext("schedule", schedule)
	}
	c.Start()
	m.cron = c
	stopped := make(chan struct{})
	m.cronStopped = stopped

	go func() {
		select {
		case <-ctx.Done():
			m.stopSweeper(c)
		case <-stopped:
		}
	}()

	m.opts.logger.Info("Proactive token refresh started", logging.String("schedule", schedule))
	return nil
}

// RefreshExpiring runs one sweep immediately and returns how many accounts were
// brought up to date
func (m *Manager) RefreshExpiring(ctx context.Context) (int, error) {
	index, ok := expiryIndexOf(m.store)
	if !ok {
		return 0, errors.ConfigError("token store cannot list tokens by expiry")
	}
	return m.sweep(ctx, index), nil
}

func (m *Manager) sweep(ctx context.Context, index ExpiryIndex) int {
	horizon := m.opts.clock().Add(m.cfg.AutoRefreshThreshold)
	accounts, err := index.ListExpiring(ctx, horizon)
	if err != nil {
		m.opts.logger.Error("Failed to list expiring tokens", err)
		return 0
	}

	refreshed := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if _, err := m.refreshShared(ctx, account, false, TriggerProactive); err != nil {
			if errors.IsType(err, errors.ErrTypeNotFound) {
				// index entry outlived its token
				continue
			}
			m.opts.logger.Warn("Proactive refresh failed", logging.Account(string(account)), logging.Err(err))
			continue
		}
		refreshed++
	}

	if len(accounts) > 0 {
		m.opts.logger.Debug("Proactive refresh sweep finished",
			logging.Int("candidates", len(accounts)),
			logging.Int("refreshed", refreshed))
	}
	return refreshed
}

// Close stops the proactive sweeper and waits for a running sweep to finish
func (m *Manager) Close() error {
	m.stopSweeper(nil)
	return nil
}

// stopSweeper stops the running sweeper, or only c when c is not nil
func (m *Manager) stopSweeper(c *cron.Cron) {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron == nil || (c != nil && m.cron != c) {
		return
	}
	<-m.cron.Stop().Done()
	close(m.cronStopped)
	m.cron = nil
}

// cronLogger routes robfig/cron diagnostics to a logging.Logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logging.Field{Key: key, Value: keysAndValues[i+1]})
	}
	return fields
}
