package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, lp)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.ForceFlush(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestNewLoggerProvider_Enabled(t *testing.T) {
	ctx := context.Background()

	// The OTLP gRPC exporter connects lazily, so construction succeeds
	// without a collector listening
	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "cmp-backend-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer lp.Shutdown(ctx)

	assert.True(t, lp.IsEnabled())
}

func TestNewZapOTELCore_Disabled(t *testing.T) {
	t.Run("nil provider", func(t *testing.T) {
		core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "cmp-backend"})
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	})

	t.Run("disabled provider", func(t *testing.T) {
		lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
		require.NoError(t, err)

		core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "cmp-backend", LoggerProvider: lp})
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	})
}

func TestLevelFilterCore(t *testing.T) {
	base, logs := observer.New(zap.DebugLevel)
	filtered := &levelFilterCore{Core: base, minLevel: zapcore.WarnLevel}
	log := zap.New(filtered)

	log.Debug("dropped")
	log.Info("dropped too")
	log.Warn("kept", zap.String("connector", "zoho"))
	log.Error("kept as well")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)

	t.Run("With keeps the filter", func(t *testing.T) {
		child := filtered.With([]zapcore.Field{zap.String("actor", "AI:Accountant")})
		assert.False(t, child.Enabled(zapcore.InfoLevel))
		assert.True(t, child.Enabled(zapcore.ErrorLevel))
	})
}

func TestNewBridgedLogger_WritesBothCores(t *testing.T) {
	local, localLogs := observer.New(zap.DebugLevel)
	remote, remoteLogs := observer.New(zap.DebugLevel)

	log := NewBridgedLogger(local, remote)
	log.Info("perform finished",
		zap.String("connector", "zoho"),
		zap.String("actor", "AI:Accountant"),
	)

	require.Equal(t, 1, localLogs.Len())
	require.Equal(t, 1, remoteLogs.Len())
	assert.Equal(t, "perform finished", localLogs.All()[0].Message)
}

func TestCreateBridgedLoggerFromConfig(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	log, err := CreateBridgedLoggerFromConfig(&BaseLoggerConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, lp, "cmp-backend")
	require.NoError(t, err)
	require.NotNil(t, log)

	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.FatalLevel, parseLogLevel("fatal"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("nonsense"))
}
