// Package ratelimit admits outbound connector calls through per-connector
// token buckets. One bucket per connector ID; buckets are shared by every
// caller in the process.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cmp/backend/internal/domain/integration"
)

// Registry holds one token bucket per connector.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Register creates the bucket for a connector. The bucket starts full, so
// a burst up to capacity is admitted immediately. Re-registering replaces
// the bucket.
func (r *Registry) Register(connectorID string, refillPerSecond float64, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[connectorID] = rate.NewLimiter(rate.Limit(refillPerSecond), capacity)
}

// Acquire blocks until cost tokens are available or maxWait elapses. On
// timeout it returns *integration.RateLimitError without consuming tokens.
// Context cancellation passes through unchanged.
func (r *Registry) Acquire(ctx context.Context, connectorID string, cost int, maxWait time.Duration) error {
	r.mu.RLock()
	bucket, ok := r.buckets[connectorID]
	r.mu.RUnlock()
	if !ok {
		return errors.New("ratelimit: no bucket registered for connector " + connectorID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if err := bucket.WaitN(waitCtx, cost); err != nil {
		if ctx.Err() != nil {
			// The caller's context died, not our wait budget
			return ctx.Err()
		}
		return &integration.RateLimitError{ConnectorID: connectorID, MaxWait: maxWait}
	}
	return nil
}

// Allow reports whether cost tokens are available right now, consuming
// them when they are.
func (r *Registry) Allow(connectorID string, cost int) bool {
	r.mu.RLock()
	bucket, ok := r.buckets[connectorID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return bucket.AllowN(time.Now(), cost)
}
