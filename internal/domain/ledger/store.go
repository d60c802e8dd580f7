package ledger

import (
	"context"
	"time"
)

// Filter narrows a ledger query. Zero-valued fields match everything.
type Filter struct {
	Actor        string
	ActionPrefix string
	From         *time.Time
	To           *time.Time
	// StartSequence is the first sequence number to include. Cursors use
	// it to resume scanning after the last entry of the previous batch.
	StartSequence uint64
}

// EntryStore is the durable, ordered persistence primitive the ledger
// builds on. Implementations must be append-only: Insert never updates an
// existing row, and nothing ever deletes one.
type EntryStore interface {
	// Insert persists one entry. It must fail if an entry with the same
	// sequence already exists.
	Insert(ctx context.Context, entry *Entry) error

	// Tail returns the entry with the highest sequence, or nil when the
	// ledger is empty.
	Tail(ctx context.Context) (*Entry, error)

	// Get returns the entry at the given sequence, or shared.ErrNotFound.
	Get(ctx context.Context, sequence uint64) (*Entry, error)

	// Range returns up to limit entries with from <= sequence <= to, in
	// ascending sequence order.
	Range(ctx context.Context, from, to uint64, limit int) ([]Entry, error)

	// Find returns up to limit entries matching the filter, in ascending
	// sequence order.
	Find(ctx context.Context, filter Filter, limit int) ([]Entry, error)
}
