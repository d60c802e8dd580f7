package shared

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time acquisition so that components driven by expiry
// windows (credential lifecycle, ledger timestamps) are testable with a
// controlled clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// NewEntryID generates a unique identifier for ledger entries and requests.
func NewEntryID() uuid.UUID {
	return uuid.New()
}

// FixedClock is a Clock pinned to a settable instant, for tests.
type FixedClock struct {
	Instant time.Time
}

// Now returns the pinned instant.
func (c *FixedClock) Now() time.Time {
	return c.Instant
}

// Advance moves the pinned instant forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.Instant = c.Instant.Add(d)
}
