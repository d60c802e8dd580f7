// Package integration coordinates connector calls with the audit ledger:
// every performed operation, successful or not, leaves exactly one ledger
// entry behind.
package integration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/logger"
	"github.com/cmp/backend/internal/infrastructure/telemetry"
)

// Facade is the single entry point for performing external operations. It
// routes to the registered connector and records the outcome in the audit
// ledger before reporting back to the caller.
type Facade struct {
	connectors map[string]integration.Connector
	ledger     *ledger.Ledger
	log        *zap.Logger
	metrics    *telemetry.ConnectorMetrics
}

// NewFacade creates a Facade over the given ledger.
func NewFacade(led *ledger.Ledger, log *zap.Logger, metrics *telemetry.ConnectorMetrics) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{
		connectors: make(map[string]integration.Connector),
		ledger:     led,
		log:        log,
		metrics:    metrics,
	}
}

// Register adds a connector. Registering the same ID twice is a
// programming error and overwrites the earlier connector.
func (f *Facade) Register(c integration.Connector) {
	f.connectors[c.ID()] = c
}

// Connectors lists the registered connector IDs in stable order.
func (f *Facade) Connectors() []string {
	ids := make([]string, 0, len(f.connectors))
	for id := range f.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Operations lists the operations a registered connector serves.
func (f *Facade) Operations(connectorID string) ([]string, error) {
	c, ok := f.connectors[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownConnector, connectorID)
	}
	return c.Operations(), nil
}

// Result is the settled outcome of one performed operation.
type Result struct {
	Response *integration.Response
	Entry    *ledger.Entry
}

// Perform runs one operation on behalf of an actor and appends the audit
// entry. An unknown connector fails before anything is attempted and is
// not recorded. Once the connector has been invoked, exactly one entry is
// appended whether the call succeeded or failed; if that append fails the
// whole operation reports the persistence failure, because an unrecorded
// action must not look settled.
func (f *Facade) Perform(ctx context.Context, connectorID, operation string, params integration.Params, actor string) (*Result, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required: %w", shared.ErrInvalidInput)
	}
	c, ok := f.connectors[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownConnector, connectorID)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "integration", "Perform",
		telemetry.WithAttribute(telemetry.SpanAttrConnector, connectorID),
		telemetry.WithAttribute(telemetry.SpanAttrOperation, operation),
		telemetry.WithAttribute(telemetry.SpanAttrActor, actor),
	)
	defer span.End()

	start := time.Now()
	var (
		resp    *integration.Response
		callErr error
	)
	labels := telemetry.OperationLabels(operation, map[string]string{
		telemetry.ProfilingLabelConnector: connectorID,
	})
	telemetry.WithProfilingLabels(ctx, labels, func(c2 context.Context) {
		resp, callErr = c.Invoke(c2, operation, params)
	})

	payload := map[string]any{
		"operation":   operation,
		"params":      params,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	outcome := ledger.Success()
	if callErr != nil {
		outcome = ledger.Failure(string(integration.KindOf(callErr)))
		payload["error"] = callErr.Error()
	} else {
		payload["status_code"] = resp.StatusCode
		payload["attempts"] = resp.Attempts
		payload["response"] = resp.Data
	}

	if callErr != nil {
		telemetry.RecordError(span, callErr)
	}

	// Correlate facade logs with the active span
	log := logger.WithTraceContext(ctx, f.log)

	entry, appendErr := f.ledger.Append(ctx, actor, connectorID+"."+operation, payload, outcome)
	if appendErr != nil {
		telemetry.RecordError(span, appendErr)
		f.metrics.RecordLedgerAppend(ctx, "persistence_error")
		log.Error("audit append failed after connector call",
			zap.String("connector_id", connectorID),
			zap.String("operation", operation),
			zap.String("actor", actor),
			zap.Bool("call_succeeded", callErr == nil),
			zap.Error(appendErr),
		)
		return nil, appendErr
	}
	f.metrics.RecordLedgerAppend(ctx, string(outcome.Status))
	telemetry.SetAttribute(span, telemetry.SpanAttrSequence, int64(entry.Sequence))
	telemetry.SetAttribute(span, telemetry.SpanAttrEntryHash, entry.EntryHash)
	if callErr == nil {
		telemetry.SetAttribute(span, telemetry.SpanAttrStatusCode, resp.StatusCode)
		telemetry.SetAttribute(span, telemetry.SpanAttrAttempts, resp.Attempts)
		telemetry.SetOK(span)
	}

	log.Info("operation recorded",
		zap.String("connector_id", connectorID),
		zap.String("operation", operation),
		zap.String("actor", actor),
		zap.Uint64("sequence", entry.Sequence),
		zap.String("outcome", outcome.String()),
	)

	if callErr != nil {
		return &Result{Entry: entry}, callErr
	}
	return &Result{Response: resp, Entry: entry}, nil
}
