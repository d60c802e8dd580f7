package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("creates logger with json format", func(t *testing.T) {
		cfg := &Config{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("creates logger with console format", func(t *testing.T) {
		cfg := &Config{
			Level:      "debug",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("file output falls back to stdout on open failure", func(t *testing.T) {
		cfg := &Config{
			Level:      "info",
			Format:     "json",
			Output:     "/nonexistent-dir/app.log",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})
}

func TestNewForEnvironment(t *testing.T) {
	t.Run("production gets json config", func(t *testing.T) {
		logger, err := NewForEnvironment("production")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("development gets console config", func(t *testing.T) {
		logger, err := NewForEnvironment("development")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})
}

func TestZapLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"INFO", zapcore.InfoLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, (&Config{Level: tt.input}).zapLevel())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestSync(t *testing.T) {
	logger, err := NewForEnvironment("development")
	require.NoError(t, err)

	// Sync on stdout may return an error on some platforms; it must not panic
	assert.NotPanics(t, func() {
		_ = Sync(logger)
	})
}
