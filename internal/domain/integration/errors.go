package integration

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies how an external operation failed. Every settled
// failure maps to exactly one kind; the kind is what the audit ledger
// records and what drives retry decisions.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuth        FailureKind = "auth"
)

// RateLimitError reports that a caller could not obtain admission to a
// connector's rate bucket within its wait budget.
type RateLimitError struct {
	ConnectorID string
	MaxWait     time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("connector %s: rate limit exceeded after waiting %s", e.ConnectorID, e.MaxWait)
}

// AuthError reports that a usable credential could not be produced:
// refresh was rejected, or exhausted without success.
type AuthError struct {
	ConnectorID string
	Reason      string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connector %s: credential unavailable (%s): %v", e.ConnectorID, e.Reason, e.Err)
	}
	return fmt.Sprintf("connector %s: credential unavailable (%s)", e.ConnectorID, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransientError wraps a failure worth retrying: timeouts, connection
// errors, 5xx responses, and explicit rate-limit responses from the
// remote service.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
	Attempts   int
}

func (e *TransientError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("transient failure after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a failure that retrying cannot fix: 4xx responses
// other than 429, malformed requests, or an authentication rejection on a
// freshly issued token.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// KindOf maps a settled error to its failure kind. A nil error is
// FailureNone.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var (
		rateErr  *RateLimitError
		authErr  *AuthError
		transErr *TransientError
		permErr  *PermanentError
	)
	switch {
	case errors.As(err, &rateErr):
		return FailureRateLimited
	case errors.As(err, &authErr):
		return FailureAuth
	case errors.As(err, &permErr):
		return FailurePermanent
	case errors.As(err, &transErr):
		return FailureTransient
	default:
		return FailureTransient
	}
}
