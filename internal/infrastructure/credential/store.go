// Package credential manages connector token lifecycles: caching, expiry
// tracking, and refresh with single-flight collapsing so that a burst of
// callers triggers at most one refresh round trip per connector.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/telemetry"
)

// RefreshRejectedError is a permanent refresh rejection from the identity
// provider. It is not retried; callers get an auth failure.
type RefreshRejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RefreshRejectedError) Error() string {
	return fmt.Sprintf("refresh rejected by provider (HTTP %d): %s", e.StatusCode, e.Detail)
}

// Refresher performs one refresh round trip for one connector.
type Refresher interface {
	Refresh(ctx context.Context) (*integration.Credential, error)
}

// StateStore persists token material across restarts.
type StateStore interface {
	// Load returns the stored credential, or shared.ErrNotFound.
	Load(ctx context.Context, connectorID string) (*integration.Credential, error)
	// Save upserts the credential.
	Save(ctx context.Context, cred *integration.Credential) error
	// Delete removes the credential.
	Delete(ctx context.Context, connectorID string) error
}

// Store implements integration.CredentialSource over a StateStore and a
// set of per-connector refreshers.
type Store struct {
	states     StateStore
	refreshers map[string]Refresher
	margin     time.Duration
	clock      shared.Clock
	log        *zap.Logger
	metrics    *telemetry.ConnectorMetrics
	group      singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry decisions.
func WithClock(clock shared.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics attaches refresh round-trip counters.
func WithMetrics(metrics *telemetry.ConnectorMetrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// NewStore creates a Store. margin is how long before expiry a token is
// treated as expiring and refreshed ahead of need.
func NewStore(states StateStore, margin time.Duration, opts ...Option) *Store {
	s := &Store{
		states:     states,
		refreshers: make(map[string]Refresher),
		margin:     margin,
		clock:      shared.SystemClock{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ integration.CredentialSource = (*Store)(nil)

// Register binds a refresher to a connector ID.
func (s *Store) Register(connectorID string, refresher Refresher) {
	s.refreshers[connectorID] = refresher
}

// GetToken returns a token currently believed usable. Valid tokens are
// served from the state store; expiring or expired ones trigger a refresh,
// with concurrent demand for the same connector collapsed into one round
// trip. A permanent provider rejection surfaces as *integration.AuthError
// to every waiter.
func (s *Store) GetToken(ctx context.Context, connectorID string) (string, error) {
	refresher, ok := s.refreshers[connectorID]
	if !ok {
		return "", &integration.AuthError{ConnectorID: connectorID, Reason: "no refresher registered"}
	}

	now := s.clock.Now()
	cred, err := s.loadState(ctx, connectorID)
	if err != nil {
		return "", err
	}

	if cred != nil {
		switch cred.State(now, s.margin) {
		case integration.StateValid:
			return cred.AccessToken, nil
		case integration.StateExpired:
			s.log.Warn("credential expired, refreshing before use",
				zap.String("connector_id", connectorID),
				zap.Time("expired_at", cred.ExpiresAt),
			)
		case integration.StateExpiringSoon:
			s.log.Debug("credential entering refresh margin",
				zap.String("connector_id", connectorID),
				zap.Time("expires_at", cred.ExpiresAt),
			)
		}
	}

	fresh, err := s.refresh(ctx, connectorID, refresher)
	if err != nil {
		// An expiring token is still usable until it actually expires, so
		// a failed early refresh falls back to it
		if cred != nil && !cred.Expired(now) {
			var rejected *RefreshRejectedError
			if !errors.As(err, &rejected) {
				s.log.Warn("early refresh failed, serving current token until expiry",
					zap.String("connector_id", connectorID),
					zap.Error(err),
				)
				return cred.AccessToken, nil
			}
		}
		var authErr *integration.AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &integration.AuthError{ConnectorID: connectorID, Reason: "refresh failed", Err: err}
	}
	return fresh.AccessToken, nil
}

// Invalidate discards the stored token after the remote rejected it. The
// next GetToken refreshes unconditionally.
func (s *Store) Invalidate(ctx context.Context, connectorID string) error {
	err := s.states.Delete(ctx, connectorID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	s.log.Info("credential invalidated", zap.String("connector_id", connectorID))
	return nil
}

func (s *Store) loadState(ctx context.Context, connectorID string) (*integration.Credential, error) {
	cred, err := s.states.Load(ctx, connectorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: state load failed: %w", err)
	}
	return cred, nil
}

// refresh performs the single-flight refresh round trip. All concurrent
// callers for the same connector share one outcome.
func (s *Store) refresh(ctx context.Context, connectorID string, refresher Refresher) (*integration.Credential, error) {
	result, err, _ := s.group.Do(connectorID, func() (any, error) {
		cred, err := refresher.Refresh(ctx)
		if err != nil {
			var rejected *RefreshRejectedError
			if errors.As(err, &rejected) {
				s.metrics.RecordCredentialRefresh(ctx, connectorID, "rejected")
				s.log.Error("credential refresh rejected",
					zap.String("connector_id", connectorID),
					zap.Int("status", rejected.StatusCode),
				)
				return nil, &integration.AuthError{ConnectorID: connectorID, Reason: "refresh rejected", Err: err}
			}
			s.metrics.RecordCredentialRefresh(ctx, connectorID, "transient_failure")
			return nil, err
		}
		cred.ConnectorID = connectorID
		if err := s.states.Save(ctx, cred); err != nil {
			return nil, fmt.Errorf("credential: state save failed: %w", err)
		}
		s.metrics.RecordCredentialRefresh(ctx, connectorID, "success")
		s.log.Info("credential refreshed",
			zap.String("connector_id", connectorID),
			zap.Time("expires_at", cred.ExpiresAt),
		)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*integration.Credential), nil
}
