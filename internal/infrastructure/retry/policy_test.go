package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/infrastructure/transport"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected integration.FailureKind
	}{
		{"nil error", nil, integration.FailureNone},
		{"http 500", &transport.Error{StatusCode: 500}, integration.FailureTransient},
		{"http 503", &transport.Error{StatusCode: 503}, integration.FailureTransient},
		{"http 429", &transport.Error{StatusCode: 429}, integration.FailureTransient},
		{"http 400", &transport.Error{StatusCode: 400}, integration.FailurePermanent},
		{"http 404", &transport.Error{StatusCode: 404}, integration.FailurePermanent},
		{"http 422", &transport.Error{StatusCode: 422}, integration.FailurePermanent},
		{"deadline exceeded", context.DeadlineExceeded, integration.FailureTransient},
		{"net timeout", timeoutErr{}, integration.FailureTransient},
		{"connection refused", syscall.ECONNREFUSED, integration.FailureTransient},
		{"connection reset", syscall.ECONNRESET, integration.FailureTransient},
		{"unknown error", errors.New("something odd"), integration.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestSchedule_Budget(t *testing.T) {
	s := NewSchedule(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	assert.True(t, s.Begin())
	assert.True(t, s.Begin())
	assert.True(t, s.Begin())
	assert.False(t, s.Begin())
	assert.Equal(t, 3, s.Attempt())

	_, ok := s.Next()
	assert.False(t, ok)
}

func TestSchedule_Backoff(t *testing.T) {
	t.Run("delays grow exponentially with jitter under base", func(t *testing.T) {
		cfg := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
		s := NewSchedule(cfg)

		for i := 0; i < 4; i++ {
			require.True(t, s.Begin())
			delay, ok := s.Next()
			require.True(t, ok)

			floor := cfg.BaseDelay << uint(i)
			assert.GreaterOrEqual(t, delay, floor)
			assert.Less(t, delay, floor+cfg.BaseDelay)
		}
	})

	t.Run("delay is capped at MaxDelay", func(t *testing.T) {
		cfg := Config{MaxAttempts: 20, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
		s := NewSchedule(cfg)

		for i := 0; i < 19; i++ {
			require.True(t, s.Begin())
		}
		delay, ok := s.Next()
		require.True(t, ok)
		assert.LessOrEqual(t, delay, cfg.MaxDelay+cfg.BaseDelay)
	})
}

func TestSchedule_Sleep(t *testing.T) {
	t.Run("sleeps roughly the scheduled delay", func(t *testing.T) {
		s := NewSchedule(Config{MaxAttempts: 2, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second})
		require.True(t, s.Begin())

		start := time.Now()
		require.NoError(t, s.Sleep(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("cancellation interrupts the sleep", func(t *testing.T) {
		s := NewSchedule(Config{MaxAttempts: 2, BaseDelay: 10 * time.Second, MaxDelay: time.Minute})
		require.True(t, s.Begin())

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := s.Sleep(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("exhausted budget refuses to sleep", func(t *testing.T) {
		s := NewSchedule(Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second})
		require.True(t, s.Begin())
		assert.Error(t, s.Sleep(context.Background()))
	})
}
