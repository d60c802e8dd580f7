package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMeteredDBMetrics(t *testing.T, cfg DBMetricsConfig) (*DBMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewDBMetrics(mp.Meter("test"), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, reader
}

func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
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

func sumByAttr(t *testing.T, m metricdata.Metrics, key attribute.Key, value string) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(key); found && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestDefaultDBMetricsConfig(t *testing.T) {
	cfg := DefaultDBMetricsConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, 15*time.Second, cfg.PoolStatsInterval)
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("counts queries by operation", func(t *testing.T) {
		m, reader := newMeteredDBMetrics(t, DefaultDBMetricsConfig())

		m.RecordQuery(ctx, "select", "ledger_entries", 5*time.Millisecond)
		m.RecordQuery(ctx, "SELECT", "ledger_entries", 3*time.Millisecond)
		m.RecordQuery(ctx, "", "ledger_entries", time.Millisecond)

		total, ok := collectMetric(t, reader, "db_query_total")
		require.True(t, ok)
		assert.Equal(t, int64(2), sumByAttr(t, total, AttrDBOperation, "SELECT"))
		assert.Equal(t, int64(1), sumByAttr(t, total, AttrDBOperation, "UNKNOWN"))
	})

	t.Run("counts slow queries by table", func(t *testing.T) {
		m, reader := newMeteredDBMetrics(t, DBMetricsConfig{
			Enabled:            true,
			SlowQueryThreshold: 10 * time.Millisecond,
		})

		m.RecordQuery(ctx, "SELECT", "ledger_entries", 5*time.Millisecond)
		m.RecordQuery(ctx, "SELECT", "ledger_entries", 50*time.Millisecond)
		m.RecordQuery(ctx, "SELECT", "", 50*time.Millisecond)

		slow, ok := collectMetric(t, reader, "db_slow_query_total")
		require.True(t, ok)
		assert.Equal(t, int64(1), sumByAttr(t, slow, AttrDBTable, "ledger_entries"))
		assert.Equal(t, int64(1), sumByAttr(t, slow, AttrDBTable, "unknown"))
	})

	t.Run("records latency", func(t *testing.T) {
		m, reader := newMeteredDBMetrics(t, DefaultDBMetricsConfig())

		m.RecordQuery(ctx, "INSERT", "ledger_entries", 2*time.Millisecond)

		duration, ok := collectMetric(t, reader, "db_query_duration_seconds")
		require.True(t, ok)
		hist, isHist := duration.Data.(metricdata.Histogram[float64])
		require.True(t, isHist)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	})

	t.Run("disabled records nothing", func(t *testing.T) {
		m, reader := newMeteredDBMetrics(t, DBMetricsConfig{Enabled: false})

		m.RecordQuery(ctx, "SELECT", "ledger_entries", time.Second)

		_, ok := collectMetric(t, reader, "db_query_total")
		assert.False(t, ok)
	})
}

func TestDBMetrics_PoolStats(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, reader := newMeteredDBMetrics(t, DefaultDBMetricsConfig())
	m.SetSQLDB(sqlDB)
	m.samplePoolStats(context.Background())

	pool, ok := collectMetric(t, reader, "db_pool_connections")
	require.True(t, ok)
	gauge, isGauge := pool.Data.(metricdata.Gauge[int64])
	require.True(t, isGauge)

	states := map[string]bool{}
	for _, dp := range gauge.DataPoints {
		if v, found := dp.Attributes.Value(AttrDBState); found {
			states[v.AsString()] = true
		}
	}
	assert.True(t, states["idle"])
	assert.True(t, states["in_use"])
	assert.True(t, states["open"])
}

func TestDBMetrics_Stop(t *testing.T) {
	m, _ := newMeteredDBMetrics(t, DefaultDBMetricsConfig())

	m.Stop()
	m.Stop() // repeat Stop is safe
}

func TestDBMetricsPlugin(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditRow{}))

	m, reader := newMeteredDBMetrics(t, DefaultDBMetricsConfig())
	require.NoError(t, db.Use(NewDBMetricsPlugin(m, zap.NewNop())))

	require.NoError(t, db.Create(&auditRow{Actor: "AI:Accountant", Sequence: 0}).Error)
	var row auditRow
	require.NoError(t, db.First(&row, "actor = ?", "AI:Accountant").Error)

	total, ok := collectMetric(t, reader, "db_query_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), sumByAttr(t, total, AttrDBOperation, "INSERT"))
	assert.Equal(t, int64(1), sumByAttr(t, total, AttrDBOperation, "SELECT"))
}

func TestClassifySQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM ledger_entries":       "SELECT",
		"  insert into ledger_entries (...)": "INSERT",
		"Update ledger_entries SET actor=?":  "UPDATE",
		"delete from ledger_entries":         "DELETE",
		"PRAGMA table_info(ledger_entries)":  "OTHER",
		"":                                   "OTHER",
	}
	for sql, want := range cases {
		assert.Equal(t, want, classifySQL(sql), sql)
	}
}
