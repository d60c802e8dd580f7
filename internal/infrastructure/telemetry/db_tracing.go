package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database span configuration.
type DBTracingConfig struct {
	Enabled          bool
	SlowQueryThresh  time.Duration
	DBSystem         string
	WithoutVariables bool // keep bind values out of spans
}

// DefaultDBTracingConfig returns the secure defaults: tracing off, bind
// values excluded, 200ms slow query threshold.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:          false,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin attaches otelgorm spans to a GORM session and layers
// slow-query and error annotations on top of them.
type DBTracingPlugin struct {
	config DBTracingConfig
	log    *zap.Logger
}

func NewDBTracingPlugin(cfg DBTracingConfig, log *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, log: log}
}

// RegisterOtelGorm installs the otelgorm plugin and the annotation
// callbacks. A no-op while tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.log.Debug("database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if p.config.WithoutVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if err := p.registerSpanCallbacks(db); err != nil {
		return err
	}

	p.log.Info("database tracing enabled",
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
		zap.Bool("without_variables", p.config.WithoutVariables),
	)
	return nil
}

// registerSpanCallbacks brackets every GORM operation: the before hook
// stamps a start time into the statement context, the after hook writes
// attributes onto whatever span otelgorm opened.
func (p *DBTracingPlugin) registerSpanCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	steps := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("db_span:start_create", markQueryStart) },
		func() error { return cb.Create().After("gorm:create").Register("db_span:finish_create", p.finishQuery) },
		func() error { return cb.Query().Before("gorm:query").Register("db_span:start_query", markQueryStart) },
		func() error { return cb.Query().After("gorm:query").Register("db_span:finish_query", p.finishQuery) },
		func() error { return cb.Update().Before("gorm:update").Register("db_span:start_update", markQueryStart) },
		func() error { return cb.Update().After("gorm:update").Register("db_span:finish_update", p.finishQuery) },
		func() error { return cb.Delete().Before("gorm:delete").Register("db_span:start_delete", markQueryStart) },
		func() error { return cb.Delete().After("gorm:delete").Register("db_span:finish_delete", p.finishQuery) },
		func() error { return cb.Row().Before("gorm:row").Register("db_span:start_row", markQueryStart) },
		func() error { return cb.Row().After("gorm:row").Register("db_span:finish_row", p.finishQuery) },
		func() error { return cb.Raw().Before("gorm:raw").Register("db_span:start_raw", markQueryStart) },
		func() error { return cb.Raw().After("gorm:raw").Register("db_span:finish_raw", p.finishQuery) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

type queryStartKey struct{}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

// finishQuery annotates the active span with row counts, the table
// touched, non-not-found errors and a slow-query event.
func (p *DBTracingPlugin) finishQuery(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	// An absent row is a normal answer, not a failure
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
