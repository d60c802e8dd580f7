package integration

import (
	"context"
	"time"
)

// LifecycleState is the observable state of one connector's credential.
type LifecycleState string

const (
	StateValid           LifecycleState = "valid"
	StateExpiringSoon    LifecycleState = "expiring_soon"
	StateRefreshInFlight LifecycleState = "refresh_in_flight"
	StateExpired         LifecycleState = "expired"
	StateRefreshFailed   LifecycleState = "refresh_failed"
)

// Credential is one connector's stored token material. A zero ExpiresAt
// means the token never expires (static API keys).
type Credential struct {
	ConnectorID string
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token is unusable at the given instant.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiringSoon reports whether the token enters its refresh margin at the
// given instant. Expired tokens are not "expiring soon"; they are expired.
func (c *Credential) ExpiringSoon(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() || c.Expired(now) {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}

// State derives the lifecycle state from token timing alone. Refresh
// bookkeeping states are layered on by the credential store.
func (c *Credential) State(now time.Time, margin time.Duration) LifecycleState {
	switch {
	case c.Expired(now):
		return StateExpired
	case c.ExpiringSoon(now, margin):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// CredentialSource hands out usable tokens, refreshing behind the scenes
// when needed. Implementations must collapse concurrent refresh demand
// for the same connector into a single refresh round trip.
type CredentialSource interface {
	// GetToken returns a token currently believed usable, or *AuthError
	// when none can be produced.
	GetToken(ctx context.Context, connectorID string) (string, error)

	// Invalidate discards the cached token after the remote rejected it,
	// forcing the next GetToken to refresh.
	Invalidate(ctx context.Context, connectorID string) error
}
