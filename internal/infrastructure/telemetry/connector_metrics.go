// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewConnectorMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ConnectorMetrics tracks outbound connector activity: network attempts,
// settled outcomes, call latency, and audit ledger appends.
type ConnectorMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	attemptsTotal      *Counter
	outcomesTotal      *Counter
	callDuration       *Histogram
	rateLimitWaits     *Counter
	credentialRefresh  *Counter
	ledgerAppendsTotal *Counter
}

// ConnectorMetricsConfig holds configuration for connector metrics.
type ConnectorMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewConnectorMetrics creates a new ConnectorMetrics instance.
func NewConnectorMetrics(cfg ConnectorMetricsConfig) (*ConnectorMetrics, error) {
	if cfg.Meter == nil {
		return nil, &MetricsError{Op: "NewConnectorMetrics", Err: "meter cannot be nil"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &ConnectorMetrics{
		meter:  cfg.Meter,
		logger: logger,
	}

	var err error

	cm.attemptsTotal, err = NewCounter(
		cfg.Meter,
		"cmp_connector_attempts_total",
		"Total number of network attempts against external connectors",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	cm.outcomesTotal, err = NewCounter(
		cfg.Meter,
		"cmp_connector_outcomes_total",
		"Settled connector operation outcomes by kind",
		"{operations}",
	)
	if err != nil {
		return nil, err
	}

	cm.callDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "cmp_connector_call_duration_seconds",
		Description: "Duration of settled connector operations",
		Unit:        "s",
		Boundaries:  []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	if err != nil {
		return nil, err
	}

	cm.rateLimitWaits, err = NewCounter(
		cfg.Meter,
		"cmp_connector_rate_limit_rejections_total",
		"Operations rejected because rate bucket admission timed out",
		"{operations}",
	)
	if err != nil {
		return nil, err
	}

	cm.credentialRefresh, err = NewCounter(
		cfg.Meter,
		"cmp_credential_refresh_total",
		"Credential refresh round trips by result",
		"{refreshes}",
	)
	if err != nil {
		return nil, err
	}

	cm.ledgerAppendsTotal, err = NewCounter(
		cfg.Meter,
		"cmp_ledger_appends_total",
		"Audit ledger appends by outcome status",
		"{entries}",
	)
	if err != nil {
		return nil, err
	}

	return cm, nil
}

// RecordAttempt counts one network attempt.
func (cm *ConnectorMetrics) RecordAttempt(ctx context.Context, connectorID, operation string) {
	if cm == nil {
		return
	}
	cm.attemptsTotal.Inc(ctx,
		attribute.String("connector", connectorID),
		attribute.String("operation", operation),
	)
}

// RecordOutcome counts one settled operation and its latency. outcome is
// "success" or the failure kind.
func (cm *ConnectorMetrics) RecordOutcome(ctx context.Context, connectorID, operation, outcome string, elapsed time.Duration) {
	if cm == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("connector", connectorID),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	}
	cm.outcomesTotal.Inc(ctx, attrs...)
	cm.callDuration.Record(ctx, elapsed.Seconds(), attrs...)
}

// RecordRateLimitRejection counts one admission timeout.
func (cm *ConnectorMetrics) RecordRateLimitRejection(ctx context.Context, connectorID string) {
	if cm == nil {
		return
	}
	cm.rateLimitWaits.Inc(ctx, attribute.String("connector", connectorID))
}

// RecordCredentialRefresh counts one refresh round trip. result is
// "success", "rejected" or "transient_failure".
func (cm *ConnectorMetrics) RecordCredentialRefresh(ctx context.Context, connectorID, result string) {
	if cm == nil {
		return
	}
	cm.credentialRefresh.Inc(ctx,
		attribute.String("connector", connectorID),
		attribute.String("result", result),
	)
}

// RecordLedgerAppend counts one ledger append. status is the outcome
// status of the recorded entry, or "persistence_error" when the write
// itself failed.
func (cm *ConnectorMetrics) RecordLedgerAppend(ctx context.Context, status string) {
	if cm == nil {
		return
	}
	cm.ledgerAppendsTotal.Inc(ctx, attribute.String("status", status))
}
