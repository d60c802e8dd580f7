package credential

import (
	"context"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
)

// StaticKeyRefresher serves a fixed API key that never expires (the Wio
// Bank scheme). "Refresh" just re-materializes the configured key, so an
// invalidated state store entry heals on the next GetToken.
type StaticKeyRefresher struct {
	key   string
	clock shared.Clock
}

// NewStaticKeyRefresher creates a StaticKeyRefresher for the given key.
func NewStaticKeyRefresher(key string) *StaticKeyRefresher {
	return &StaticKeyRefresher{key: key, clock: shared.SystemClock{}}
}

// Refresh returns the configured key as a non-expiring credential. A
// missing key is a permanent rejection, not a transient failure.
func (r *StaticKeyRefresher) Refresh(_ context.Context) (*integration.Credential, error) {
	if r.key == "" {
		return nil, &RefreshRejectedError{Detail: "no API key configured"}
	}
	return &integration.Credential{
		AccessToken: r.key,
		IssuedAt:    r.clock.Now().UTC(),
	}, nil
}
