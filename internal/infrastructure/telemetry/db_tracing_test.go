package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type auditRow struct {
	ID       uint   `gorm:"primaryKey"`
	Actor    string `gorm:"size:100"`
	Sequence int64
}

func newTracingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditRow{}))
	return db
}

func newSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func enabledTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:          true,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "sqlite",
		WithoutVariables: true,
	}
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
	assert.True(t, cfg.WithoutVariables)
}

func TestDBTracingPlugin_RegisterOtelGorm(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		db := newTracingTestDB(t)
		plugin := NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop())

		require.NoError(t, plugin.RegisterOtelGorm(db))
		// A second call stays a no-op because no callbacks were installed
		require.NoError(t, plugin.RegisterOtelGorm(db))
	})

	t.Run("enabled installs the callbacks once", func(t *testing.T) {
		db := newTracingTestDB(t)
		plugin := NewDBTracingPlugin(enabledTracingConfig(), zap.NewNop())

		require.NoError(t, plugin.RegisterOtelGorm(db))

		// Callback names collide on the second install
		assert.Error(t, NewDBTracingPlugin(enabledTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))
	})

	t.Run("queries still work with tracing installed", func(t *testing.T) {
		db := newTracingTestDB(t)
		require.NoError(t, NewDBTracingPlugin(enabledTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))

		require.NoError(t, db.Create(&auditRow{Actor: "AI:Accountant", Sequence: 0}).Error)

		var row auditRow
		require.NoError(t, db.First(&row, "actor = ?", "AI:Accountant").Error)
		assert.Equal(t, int64(0), row.Sequence)
	})
}

func TestDBTracingPlugin_FinishQuery(t *testing.T) {
	db := newTracingTestDB(t)
	tp, recorder := newSpanRecorder(t)
	plugin := NewDBTracingPlugin(enabledTracingConfig(), zap.NewNop())

	t.Run("records rows affected and table", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.append")

		rows := []auditRow{{Actor: "AI:Accountant", Sequence: 1}, {Actor: "AI:Accountant", Sequence: 2}}
		tx := db.WithContext(ctx).Create(&rows)
		require.NoError(t, tx.Error)

		plugin.finishQuery(tx)
		span.End()

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		attrs := spanAttrs(spans[len(spans)-1])
		assert.Equal(t, int64(2), attrs["db.rows_affected"])
		assert.Equal(t, "audit_rows", attrs["db.sql.table"])
	})

	t.Run("absent row does not mark the span as failed", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.lookup")

		var row auditRow
		tx := db.WithContext(ctx).First(&row, 99999)
		require.ErrorIs(t, tx.Error, gorm.ErrRecordNotFound)

		plugin.finishQuery(tx)
		span.End()

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		assert.NotEqual(t, codes.Error, spans[len(spans)-1].Status().Code)
	})

	t.Run("real failure marks the span", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.raw")

		tx := db.WithContext(ctx).Exec("SELECT * FROM no_such_table")
		require.Error(t, tx.Error)

		plugin.finishQuery(tx)
		span.End()

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
	})

	t.Run("slow query past the threshold adds the event", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.scan")
		ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

		var row auditRow
		tx := db.WithContext(ctx).First(&row, "sequence = ?", 1)
		require.NoError(t, tx.Error)

		plugin.finishQuery(tx)
		span.End()

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		last := spans[len(spans)-1]

		attrs := spanAttrs(last)
		assert.Equal(t, true, attrs["db.slow_query"])

		event := false
		for _, ev := range last.Events() {
			if ev.Name == "slow_query_warning" {
				event = true
			}
		}
		assert.True(t, event)
	})

	t.Run("no recording span is a no-op", func(t *testing.T) {
		tx := db.WithContext(context.Background()).Find(&[]auditRow{})
		require.NoError(t, tx.Error)

		plugin.finishQuery(tx)
	})
}

func TestMarkQueryStart(t *testing.T) {
	db := newTracingTestDB(t)

	tx := db.WithContext(context.Background())
	markQueryStart(tx)

	start, ok := tx.Statement.Context.Value(queryStartKey{}).(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), start, time.Second)
}
