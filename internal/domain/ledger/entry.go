package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first entry in the chain.
const GenesisHash = "GENESIS"

// hashTimeLayout fixes the timestamp encoding that participates in the
// entry hash. Precision is pinned to microseconds because TIMESTAMPTZ
// stores no finer; a sub-microsecond encoding would hash differently
// after a database round trip. Changing this layout invalidates every
// previously written chain.
const hashTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// TimestampPrecision is the resolution entry timestamps are truncated to
// before hashing, matching what the backing store can represent.
const TimestampPrecision = time.Microsecond

// Status is the terminal result of the operation an entry records.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome describes how the recorded operation settled. FailureKind is
// empty for successful operations.
type Outcome struct {
	Status      Status `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Failure returns a failed outcome carrying the classified failure kind.
func Failure(kind string) Outcome {
	return Outcome{Status: StatusFailure, FailureKind: kind}
}

// String renders the outcome for logs and CLI output.
func (o Outcome) String() string {
	if o.Status == StatusSuccess {
		return string(StatusSuccess)
	}
	return string(StatusFailure) + ":" + o.FailureKind
}

// Entry is one immutable record in the audit chain. Entries are created
// at append time and never mutated or destroyed; the chain only grows.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	Sequence      uint64    `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	PayloadDigest string    `json:"payload_digest"`
	PrevHash      string    `json:"prev_hash"`
	EntryHash     string    `json:"entry_hash"`
	Outcome       Outcome   `json:"outcome"`
}

// ComputeEntryHash derives the chained hash for an entry from its stored
// fields. The field order is fixed:
// prev_hash | sequence | actor | action | payload_digest | timestamp.
func ComputeEntryHash(prevHash string, sequence uint64, actor, action, payloadDigest string, timestamp time.Time) string {
	raw := strings.Join([]string{
		prevHash,
		strconv.FormatUint(sequence, 10),
		actor,
		action,
		payloadDigest,
		timestamp.UTC().Format(hashTimeLayout),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Recompute returns the hash the entry should carry given its stored
// fields, without touching the entry itself.
func (e *Entry) Recompute() string {
	return ComputeEntryHash(e.PrevHash, e.Sequence, e.Actor, e.Action, e.PayloadDigest, e.Timestamp)
}

// DigestPayload canonicalizes the payload and returns the hex-encoded
// SHA-256 digest of its canonical JSON form. A nil payload digests the
// literal "null". Canonicalization round-trips the value through a generic
// JSON tree so that object keys are emitted in sorted order regardless of
// the Go type the caller handed in.
func DigestPayload(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON returns the canonical JSON encoding of payload: compact,
// with object keys sorted.
func CanonicalJSON(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: payload not serializable: %w", err)
	}
	// encoding/json sorts map keys on marshal, so a decode/encode round
	// trip yields a canonical form for any input shape.
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("ledger: payload canonicalization failed: %w", err)
	}
	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("ledger: payload canonicalization failed: %w", err)
	}
	return canonical, nil
}
