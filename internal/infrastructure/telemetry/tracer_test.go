package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("cmp-backend"))
	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	ctx := context.Background()

	// The OTLP gRPC exporter connects lazily, so construction succeeds
	// without a collector listening
	tp, err := NewTracerProvider(ctx, Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "cmp-backend-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer tp.Shutdown(ctx)

	assert.True(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("cmp-backend"))
}

func TestTracerProvider_EnableSpanProfiles(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op while tracing is disabled", func(t *testing.T) {
		tp, err := NewTracerProvider(ctx, Config{Enabled: false}, zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, tp.EnableSpanProfiles())
		assert.False(t, tp.SpanProfilesEnabled())
	})

	t.Run("installs the wrapper once", func(t *testing.T) {
		tp, err := NewTracerProvider(ctx, Config{
			Enabled:           true,
			CollectorEndpoint: "localhost:14317",
			SamplingRatio:     1.0,
			ServiceName:       "cmp-backend-test",
			Insecure:          true,
		}, zap.NewNop())
		require.NoError(t, err)
		defer tp.Shutdown(ctx)

		require.NoError(t, tp.EnableSpanProfiles())
		assert.True(t, tp.SpanProfilesEnabled())

		// Idempotent
		require.NoError(t, tp.EnableSpanProfiles())
		assert.True(t, tp.SpanProfilesEnabled())
	})
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", samplerFor(1.0).Description())
	assert.Equal(t, "AlwaysOffSampler", samplerFor(0.0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}
