// Package connector implements the per-system integration connectors and
// the shared call pipeline they run on: rate bucket admission, credential
// acquisition, the network call, and retry with failure classification.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/infrastructure/ratelimit"
	"github.com/cmp/backend/internal/infrastructure/retry"
	"github.com/cmp/backend/internal/infrastructure/telemetry"
	"github.com/cmp/backend/internal/infrastructure/transport"
)

// Caller performs single HTTP calls. *transport.Transport satisfies it;
// tests substitute fakes.
type Caller interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Pipeline is the shared execution path for one connector's operations.
// Admission happens once per operation; the retry loop inside covers only
// the network attempts.
type Pipeline struct {
	desc    integration.Descriptor
	limiter *ratelimit.Registry
	creds   integration.CredentialSource
	caller  Caller
	log     *zap.Logger
	metrics *telemetry.ConnectorMetrics
}

// NewPipeline creates a Pipeline and registers the connector's rate
// bucket.
func NewPipeline(
	desc integration.Descriptor,
	limiter *ratelimit.Registry,
	creds integration.CredentialSource,
	caller Caller,
	log *zap.Logger,
	metrics *telemetry.ConnectorMetrics,
) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	limiter.Register(desc.ID, desc.RefillRate, desc.Capacity)
	return &Pipeline{
		desc:    desc,
		limiter: limiter,
		creds:   creds,
		caller:  caller,
		log:     log,
		metrics: metrics,
	}
}

// buildRequest constructs the outbound request for one attempt, given the
// token currently believed valid.
type buildRequest func(token string) *transport.Request

// Execute runs one operation through the pipeline and returns the settled
// response plus the number of network attempts made. Every error it
// returns is one of the typed failures in the integration package.
func (p *Pipeline) Execute(ctx context.Context, operation string, build buildRequest) (*transport.Response, int, error) {
	start := time.Now()
	resp, attempts, err := p.execute(ctx, operation, build)

	outcome := "success"
	if err != nil {
		outcome = string(integration.KindOf(err))
	}
	p.metrics.RecordOutcome(ctx, p.desc.ID, operation, outcome, time.Since(start))
	return resp, attempts, err
}

func (p *Pipeline) execute(ctx context.Context, operation string, build buildRequest) (*transport.Response, int, error) {
	// One admission per logical operation, retries included
	if err := p.limiter.Acquire(ctx, p.desc.ID, 1, p.desc.MaxWait); err != nil {
		var rateErr *integration.RateLimitError
		if errors.As(err, &rateErr) {
			p.metrics.RecordRateLimitRejection(ctx, p.desc.ID)
			p.log.Warn("rate bucket admission timed out",
				zap.String("connector_id", p.desc.ID),
				zap.String("operation", operation),
				zap.Duration("max_wait", p.desc.MaxWait),
			)
		}
		return nil, 0, err
	}

	schedule := retry.NewSchedule(retry.Config{
		MaxAttempts: p.desc.MaxAttempts,
		BaseDelay:   p.desc.BaseDelay,
		MaxDelay:    p.desc.MaxDelay,
	})

	var lastErr error
	authRetried := false

	for schedule.Begin() {
		token, err := p.creds.GetToken(ctx, p.desc.ID)
		if err != nil {
			return nil, schedule.Attempt() - 1, err
		}

		p.metrics.RecordAttempt(ctx, p.desc.ID, operation)

		callCtx, cancel := context.WithTimeout(ctx, p.desc.CallTimeout)
		resp, err := p.caller.Do(callCtx, build(token))
		cancel()

		if err == nil {
			return resp, schedule.Attempt(), nil
		}
		lastErr = err

		var httpErr *transport.Error
		if errors.As(err, &httpErr) && httpErr.StatusCode == 401 {
			// One forced refresh per operation; a rejection on the fresh
			// token means the credential itself is bad
			if !authRetried {
				authRetried = true
				p.log.Info("remote rejected token, forcing refresh",
					zap.String("connector_id", p.desc.ID),
					zap.String("operation", operation),
				)
				if invErr := p.creds.Invalidate(ctx, p.desc.ID); invErr != nil {
					return nil, schedule.Attempt(), &integration.AuthError{
						ConnectorID: p.desc.ID, Reason: "invalidate failed", Err: invErr,
					}
				}
				continue
			}
			return nil, schedule.Attempt(), &integration.PermanentError{
				Err:        fmt.Errorf("token rejected after refresh: %w", err),
				StatusCode: 401,
			}
		}

		kind := retry.Classify(err)
		if kind == integration.FailurePermanent {
			status := 0
			if httpErr != nil {
				status = httpErr.StatusCode
			}
			return nil, schedule.Attempt(), &integration.PermanentError{Err: err, StatusCode: status}
		}

		p.log.Warn("transient connector failure",
			zap.String("connector_id", p.desc.ID),
			zap.String("operation", operation),
			zap.Int("attempt", schedule.Attempt()),
			zap.Error(err),
		)

		if _, ok := schedule.Next(); !ok {
			break
		}
		if err := schedule.Sleep(ctx); err != nil {
			return nil, schedule.Attempt(), err
		}
	}

	status := 0
	var retryAfter time.Duration
	var httpErr *transport.Error
	if errors.As(lastErr, &httpErr) {
		status = httpErr.StatusCode
		retryAfter = httpErr.RetryAfter
	}
	// The forced-refresh continue can exhaust the budget with a 401 in
	// hand; that is still a permanent rejection, not a transient one
	if retry.Classify(lastErr) == integration.FailurePermanent {
		return nil, schedule.Attempt(), &integration.PermanentError{Err: lastErr, StatusCode: status}
	}
	return nil, schedule.Attempt(), &integration.TransientError{
		Err:        lastErr,
		StatusCode: status,
		RetryAfter: retryAfter,
		Attempts:   schedule.Attempt(),
	}
}
