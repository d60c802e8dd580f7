// Package retry classifies connector call failures and paces the retry
// attempts for the transient ones.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/infrastructure/transport"
)

// Config is one connector's retry budget.
type Config struct {
	// MaxAttempts counts every attempt including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Classify maps a call error to a failure kind. Timeouts, connection
// failures, 5xx and 429 responses are transient; other 4xx responses are
// permanent. Unknown errors default to transient so a new failure mode
// gets retried rather than dropped.
func Classify(err error) integration.FailureKind {
	if err == nil {
		return integration.FailureNone
	}

	var httpErr *transport.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return integration.FailureTransient
		case httpErr.StatusCode >= 500:
			return integration.FailureTransient
		case httpErr.StatusCode >= 400:
			return integration.FailurePermanent
		}
		return integration.FailureTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return integration.FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return integration.FailureTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return integration.FailureTransient
	}

	return integration.FailureTransient
}

// Schedule paces one operation's retry attempts. It is single use and not
// safe for concurrent use.
type Schedule struct {
	cfg     Config
	attempt int
	rng     *rand.Rand
}

// NewSchedule creates a Schedule for one operation.
func NewSchedule(cfg Config) *Schedule {
	return &Schedule{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attempt returns the number of attempts started so far.
func (s *Schedule) Attempt() int {
	return s.attempt
}

// Begin records the start of the next attempt and reports whether the
// budget allows it.
func (s *Schedule) Begin() bool {
	if s.attempt >= s.cfg.MaxAttempts {
		return false
	}
	s.attempt++
	return true
}

// Next returns the delay to sleep before the next attempt, and whether a
// next attempt is allowed at all.
func (s *Schedule) Next() (time.Duration, bool) {
	if s.attempt >= s.cfg.MaxAttempts {
		return 0, false
	}
	return s.delayFor(s.attempt - 1), true
}

// delayFor computes base*2^n capped at MaxDelay, plus uniform jitter in
// [0, base).
func (s *Schedule) delayFor(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := s.cfg.BaseDelay << uint(n)
	if delay > s.cfg.MaxDelay || delay <= 0 {
		delay = s.cfg.MaxDelay
	}
	if s.cfg.BaseDelay > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.cfg.BaseDelay)))
	}
	return delay
}

// Sleep waits for the next backoff delay, honoring context cancellation.
func (s *Schedule) Sleep(ctx context.Context) error {
	delay, ok := s.Next()
	if !ok {
		return errors.New("retry: attempt budget exhausted")
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
