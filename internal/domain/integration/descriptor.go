package integration

import (
	"fmt"
	"net/url"
	"time"
)

// AuthScheme names how a connector authenticates against its external
// system.
type AuthScheme string

const (
	// AuthOAuth2Refresh uses a refresh-token round trip to mint short
	// lived access tokens (Zoho Books scheme).
	AuthOAuth2Refresh AuthScheme = "oauth2_refresh"
	// AuthAPIKey uses a static key that never expires (Wio Bank scheme).
	AuthAPIKey AuthScheme = "api_key"
)

// Descriptor is the static configuration of one connector. It is
// immutable after construction; the configuration source supplies it at
// startup.
type Descriptor struct {
	ID      string
	BaseURL string
	Auth    AuthScheme

	// Rate bucket: RefillRate tokens per second, capped at Capacity.
	Capacity   int
	RefillRate float64
	// MaxWait bounds how long one call may block waiting for admission.
	MaxWait time.Duration

	// Retry budget for transient failures.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// CallTimeout bounds a single outbound network call.
	CallTimeout time.Duration
}

// Validate checks the descriptor for construction-time mistakes.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("connector descriptor: id is required")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("connector %s: base URL is required", d.ID)
	}
	if _, err := url.ParseRequestURI(d.BaseURL); err != nil {
		return fmt.Errorf("connector %s: invalid base URL: %w", d.ID, err)
	}
	switch d.Auth {
	case AuthOAuth2Refresh, AuthAPIKey:
	default:
		return fmt.Errorf("connector %s: unknown auth scheme %q", d.ID, d.Auth)
	}
	if d.Capacity <= 0 {
		return fmt.Errorf("connector %s: rate capacity must be positive", d.ID)
	}
	if d.RefillRate <= 0 {
		return fmt.Errorf("connector %s: refill rate must be positive", d.ID)
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("connector %s: max attempts must be positive", d.ID)
	}
	if d.CallTimeout <= 0 {
		return fmt.Errorf("connector %s: call timeout must be positive", d.ID)
	}
	return nil
}

// WithDefaults returns a copy with optional fields the configuration left
// zero filled in.
func (d Descriptor) WithDefaults() Descriptor {
	if d.MaxWait == 0 {
		d.MaxWait = 30 * time.Second
	}
	if d.BaseDelay == 0 {
		d.BaseDelay = 200 * time.Millisecond
	}
	if d.MaxDelay == 0 {
		d.MaxDelay = 10 * time.Second
	}
	return d
}
