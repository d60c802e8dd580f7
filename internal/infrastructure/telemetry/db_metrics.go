package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds database metrics configuration.
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

// DefaultDBMetricsConfig returns the defaults: collection on, 200ms slow
// query threshold, pool stats every 15 seconds.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics records query counts, latency and connection pool state.
// With Enabled false every method is a no-op, so callers wire it
// unconditionally.
type DBMetrics struct {
	poolConnections    *Gauge     // db_pool_connections, by state
	poolConnectionsMax *Gauge     // db_pool_connections_max
	queryTotal         *Counter   // db_query_total, by operation
	queryDuration      *Histogram // db_query_duration_seconds
	slowQueryTotal     *Counter   // db_slow_query_total, by table

	config DBMetricsConfig
	log    *zap.Logger

	mu       sync.RWMutex
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDBMetrics builds the instrument set on the given meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, log *zap.Logger) (*DBMetrics, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{config: cfg, log: log, stopCh: make(chan struct{})}

	var err error
	if m.poolConnections, err = NewGauge(meter,
		"db_pool_connections", "Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter,
		"db_pool_connections_max", "Connection pool size limit", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter,
		"db_query_total", "Queries executed by operation type", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Query latency distribution",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter,
		"db_slow_query_total", "Queries past the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// SetSQLDB hands the pool to sample. Must happen before
// StartPoolStatsCollection.
func (m *DBMetrics) SetSQLDB(sqlDB *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sqlDB = sqlDB
}

// StartPoolStatsCollection samples pool statistics on the configured
// interval until Stop or context cancellation.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	if !m.config.Enabled {
		return
	}

	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()
	if sqlDB == nil {
		m.log.Warn("pool stats collection needs SetSQLDB first")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.samplePoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.samplePoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	m.log.Info("database pool stats collection started",
		zap.Duration("interval", m.config.PoolStatsInterval),
	)
}

func (m *DBMetrics) samplePoolStats(ctx context.Context) {
	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()
	if sqlDB == nil {
		return
	}

	// OpenConnections = Idle + InUse; WaitCount is cumulative and skipped
	stats := sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// RecordQuery counts one query and its latency, and counts it again as
// slow when it runs past the threshold.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}

	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "UNKNOWN"
	}
	m.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
	m.queryDuration.RecordDuration(ctx, duration, AttrDBOperation.String(operation))

	if duration > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// DBMetricsPlugin feeds RecordQuery from GORM callbacks.
type DBMetricsPlugin struct {
	metrics *DBMetrics
	log     *zap.Logger
}

func NewDBMetricsPlugin(metrics *DBMetrics, log *zap.Logger) *DBMetricsPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &DBMetricsPlugin{metrics: metrics, log: log}
}

func (p *DBMetricsPlugin) Name() string { return "db_metrics" }

// Initialize brackets every GORM operation with a timing pair. Create,
// query, update and delete map straight to their SQL verbs; row and raw
// statements are classified from the SQL text.
func (p *DBMetricsPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	record := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) { p.recordQuery(db, operation) }
	}
	recordRaw := func(db *gorm.DB) {
		p.recordQuery(db, classifySQL(db.Statement.SQL.String()))
	}

	steps := []func() error{
		func() error {
			return cb.Create().Before("gorm:create").Register("db_metrics:start_create", markMetricsStart)
		},
		func() error {
			return cb.Create().After("gorm:create").Register("db_metrics:finish_create", record("INSERT"))
		},
		func() error {
			return cb.Query().Before("gorm:query").Register("db_metrics:start_query", markMetricsStart)
		},
		func() error {
			return cb.Query().After("gorm:query").Register("db_metrics:finish_query", record("SELECT"))
		},
		func() error {
			return cb.Update().Before("gorm:update").Register("db_metrics:start_update", markMetricsStart)
		},
		func() error {
			return cb.Update().After("gorm:update").Register("db_metrics:finish_update", record("UPDATE"))
		},
		func() error {
			return cb.Delete().Before("gorm:delete").Register("db_metrics:start_delete", markMetricsStart)
		},
		func() error {
			return cb.Delete().After("gorm:delete").Register("db_metrics:finish_delete", record("DELETE"))
		},
		func() error {
			return cb.Row().Before("gorm:row").Register("db_metrics:start_row", markMetricsStart)
		},
		func() error {
			return cb.Row().After("gorm:row").Register("db_metrics:finish_row", recordRaw)
		},
		func() error {
			return cb.Raw().Before("gorm:raw").Register("db_metrics:start_raw", markMetricsStart)
		},
		func() error {
			return cb.Raw().After("gorm:raw").Register("db_metrics:finish_raw", recordRaw)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	p.log.Info("database metrics plugin initialized")
	return nil
}

type metricsStartKey struct{}

func markMetricsStart(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, metricsStartKey{}, time.Now())
}

func (p *DBMetricsPlugin) recordQuery(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var duration time.Duration
	if start, ok := ctx.Value(metricsStartKey{}).(time.Time); ok {
		duration = time.Since(start)
	}
	p.metrics.RecordQuery(ctx, operation, db.Statement.Table, duration)
}

func classifySQL(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}
