package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/cmp/backend/internal/infrastructure/telemetry"
)

func newManualMeter(t *testing.T) (metric.Meter, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp.Meter("test"), reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(),
		telemetry.MetricsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("cmp/test"))
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestNewMeterProvider_Enabled(t *testing.T) {
	ctx := context.Background()

	// The OTLP gRPC exporter connects lazily, so construction succeeds
	// without a collector listening
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "cmp-backend-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer mp.Shutdown(ctx)

	assert.True(t, mp.IsEnabled())
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	meter, reader := newManualMeter(t)

	counter, err := telemetry.NewCounter(meter, "operations_total", "Operations performed", "{operation}")
	require.NoError(t, err)

	counter.Inc(ctx, telemetry.AttrConnector.String("zoho"))
	counter.Inc(ctx, telemetry.AttrConnector.String("zoho"))
	counter.Add(ctx, 3, telemetry.AttrConnector.String("wio"))

	m, ok := findMetric(t, reader, "operations_total")
	require.True(t, ok)

	sum, isSum := m.Data.(metricdata.Sum[int64])
	require.True(t, isSum)
	assert.True(t, sum.IsMonotonic)

	byConnector := map[string]int64{}
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(telemetry.AttrConnector); found {
			byConnector[v.AsString()] = dp.Value
		}
	}
	assert.Equal(t, int64(2), byConnector["zoho"])
	assert.Equal(t, int64(3), byConnector["wio"])
}

func TestHistogram(t *testing.T) {
	ctx := context.Background()
	meter, reader := newManualMeter(t)

	hist, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "call_duration_seconds",
		Description: "Connector call latency",
		Unit:        "s",
		Boundaries:  telemetry.DBDurationBuckets,
	})
	require.NoError(t, err)

	hist.Record(ctx, 0.002)
	hist.RecordDuration(ctx, 30*time.Millisecond)
	hist.RecordDuration(ctx, 700*time.Millisecond)

	m, ok := findMetric(t, reader, "call_duration_seconds")
	require.True(t, ok)

	data, isHist := m.Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	require.Len(t, data.DataPoints, 1)

	dp := data.DataPoints[0]
	assert.Equal(t, uint64(3), dp.Count)
	assert.Equal(t, telemetry.DBDurationBuckets, dp.Bounds)
	assert.InDelta(t, 0.732, dp.Sum, 0.001)
}

func TestGauge(t *testing.T) {
	ctx := context.Background()
	meter, reader := newManualMeter(t)

	gauge, err := telemetry.NewGauge(meter, "pool_in_use", "Connections in use", "{connection}")
	require.NoError(t, err)

	gauge.Record(ctx, 7)
	gauge.Record(ctx, 4) // gauges keep the latest value

	m, ok := findMetric(t, reader, "pool_in_use")
	require.True(t, ok)

	data, isGauge := m.Data.(metricdata.Gauge[int64])
	require.True(t, isGauge)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(4), data.DataPoints[0].Value)
}

func TestFloatGauge(t *testing.T) {
	ctx := context.Background()
	meter, reader := newManualMeter(t)

	gauge, err := telemetry.NewFloatGauge(meter, "refill_rate", "Token bucket refill rate", "{token}")
	require.NoError(t, err)

	gauge.Record(ctx, 2.5)

	m, ok := findMetric(t, reader, "refill_rate")
	require.True(t, ok)

	data, isGauge := m.Data.(metricdata.Gauge[float64])
	require.True(t, isGauge)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, 2.5, data.DataPoints[0].Value)
}

func TestAttributeKeys(t *testing.T) {
	assert.Equal(t, "db.operation", string(telemetry.AttrDBOperation))
	assert.Equal(t, "db.table", string(telemetry.AttrDBTable))
	assert.Equal(t, "db.pool.state", string(telemetry.AttrDBState))
	assert.Equal(t, "connector", string(telemetry.AttrConnector))
	assert.Equal(t, "operation", string(telemetry.AttrOperation))
	assert.Equal(t, "outcome", string(telemetry.AttrOutcome))
	assert.Equal(t, "failure_kind", string(telemetry.AttrFailureKind))
}

func TestDurationBuckets(t *testing.T) {
	assert.Equal(t, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, telemetry.DBDurationBuckets)
	assert.NotEmpty(t, telemetry.HTTPDurationBuckets)
	assert.NotEmpty(t, telemetry.SmallDurationBuckets)
}
