package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf, TimeFormat: time.RFC3339})
	require.NoError(t, err)
	return logger, &buf
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestLogger_LogLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	tests := []struct {
		name     string
		logFunc  func()
		contains []string
	}{
		{
			name:     "debug log",
			logFunc:  func() { logger.Debug("debug message", Field{"key", "value"}) },
			contains: []string{"DEBUG", "debug message", "value"},
		},
		{
			name:     "info log",
			logFunc:  func() { logger.Info("info message", Int("count", 42)) },
			contains: []string{"INFO", "info message", "42"},
		},
		{
			name:     "warn log",
			logFunc:  func() { logger.Warn("warning message", Account("acct-1")) },
			contains: []string{"WARN", "warning message", "acct-1"},
		},
		{
			name:     "error log",
			logFunc:  func() { logger.Error("error message", errors.New("test error"), Int("status", 500)) },
			contains: []string{"ERROR", "error message", "test error", "500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			output := buf.String()
			for _, contains := range tt.contains {
				assert.Contains(t, output, contains)
			}
		})
	}
}

func TestLogger_LogFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("test error"))

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	enriched := logger.WithFields(Field{"component", "oauth2-manager"})
	enriched.Info("token refreshed", Account("acct-9"))

	output := buf.String()
	assert.Contains(t, output, "oauth2-manager")
	assert.Contains(t, output, "acct-9")

	assert.Same(t, logger, logger.WithFields())
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithAccount(ctx, "acct-456")

	logger.WithContext(ctx).Info("context message")

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "acct-456")

	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("discarded")
	logger.Error("discarded", errors.New("boom"))
	assert.NotNil(t, logger.WithFields(String("k", "v")))
}

func TestOrGlobal(t *testing.T) {
	nop := NewNopLogger()
	assert.Same(t, nop, OrGlobal(nop))
	assert.NotNil(t, OrGlobal(nil))
}

func TestInitGlobalLogger_LogFile(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	path := filepath.Join(t.TempDir(), "broker.log")
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")

	require.NoError(t, InitGlobalLogger())
	Info("written to file")
	MustSync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestInitGlobalLogger_BadPath(t *testing.T) {
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "missing", "dir", "broker.log"))
	assert.Error(t, InitGlobalLogger())
}

func TestGlobalLogger_Concurrency(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Debug("concurrent message")
			_ = GetGlobalLogger()
		}()
	}
	wg.Wait()
}
