package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cmp/backend/internal/domain/shared"
)

// defaultBatchSize bounds how many rows a verification or query scan
// pulls from the store per round trip.
const defaultBatchSize = 200

// PersistenceError reports that a ledger write did not reach durable
// storage. The operation it was meant to record must be treated as NOT
// audited, which is a different failure from the operation itself failing.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: append not durably recorded: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TamperError reports the first sequence at which verification found the
// stored chain diverging from the recomputed one. It is fatal to trust in
// the affected range and is never auto-corrected.
type TamperError struct {
	Sequence uint64
	Reason   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("ledger: tamper detected at sequence %d: %s", e.Sequence, e.Reason)
}

// Ledger is the append-only, hash-chained audit record store. It is the
// single writer of the chain: the tail hash and sequence counter live
// behind its mutex and every append passes through it.
type Ledger struct {
	store EntryStore
	clock shared.Clock
	log   *zap.Logger

	mu         sync.Mutex
	tailLoaded bool
	nextSeq    uint64
	tailHash   string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for entry timestamps.
func WithClock(clock shared.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger over the given store. The tail is recovered lazily
// from the store on the first append, so constructing a Ledger against an
// existing chain resumes it.
func New(store EntryStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: shared.SystemClock{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one entry describing an attempt and its outcome. The
// entry is durably visible to subsequent reads before Append returns. If
// the store write fails, the sequence counter does not advance and the
// chain is left exactly as it was.
func (l *Ledger) Append(ctx context.Context, actor, action string, payload any, outcome Outcome) (*Entry, error) {
	if actor == "" || action == "" {
		return nil, shared.ErrInvalidInput
	}
	digest, err := DigestPayload(payload)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadTailLocked(ctx); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	entry := &Entry{
		ID:            shared.NewEntryID(),
		Sequence:      l.nextSeq,
		Timestamp:     l.clock.Now().UTC().Truncate(TimestampPrecision),
		Actor:         actor,
		Action:        action,
		PayloadDigest: digest,
		PrevHash:      l.tailHash,
		Outcome:       outcome,
	}
	entry.EntryHash = entry.Recompute()

	if err := l.store.Insert(ctx, entry); err != nil {
		l.log.Error("ledger append failed, chain unchanged",
			zap.Uint64("sequence", entry.Sequence),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil, &PersistenceError{Err: err}
	}

	l.nextSeq = entry.Sequence + 1
	l.tailHash = entry.EntryHash

	l.log.Debug("ledger entry appended",
		zap.Uint64("sequence", entry.Sequence),
		zap.String("actor", actor),
		zap.String("action", action),
		zap.String("outcome", outcome.String()),
	)
	return entry, nil
}

// loadTailLocked recovers the cached tail from the store once. Callers
// must hold l.mu.
func (l *Ledger) loadTailLocked(ctx context.Context) error {
	if l.tailLoaded {
		return nil
	}
	tail, err := l.store.Tail(ctx)
	if err != nil {
		return err
	}
	if tail == nil {
		l.nextSeq = 0
		l.tailHash = GenesisHash
	} else {
		l.nextSeq = tail.Sequence + 1
		l.tailHash = tail.EntryHash
	}
	l.tailLoaded = true
	return nil
}

// Verify recomputes every entry hash in [from, to] from stored fields and
// checks it against the persisted value and the chain linkage. It returns
// nil when the range is intact, a *TamperError naming the first divergent
// sequence otherwise. Passing to == 0 with an empty range intent is
// supported through VerifyAll.
func (l *Ledger) Verify(ctx context.Context, from, to uint64) error {
	if to < from {
		return shared.ErrInvalidInput
	}

	prevHash := GenesisHash
	if from > 0 {
		prev, err := l.store.Get(ctx, from-1)
		if err != nil {
			return fmt.Errorf("ledger: cannot anchor verification at sequence %d: %w", from, err)
		}
		prevHash = prev.EntryHash
	}

	expected := from
	for expected <= to {
		batch, err := l.store.Range(ctx, expected, to, defaultBatchSize)
		if err != nil {
			return fmt.Errorf("ledger: verification scan failed: %w", err)
		}
		if len(batch) == 0 {
			// Ran out of entries before `to`; an open-ended scan is done,
			// a bounded one means the requested range does not exist.
			return nil
		}
		for i := range batch {
			e := &batch[i]
			if e.Sequence != expected {
				return &TamperError{Sequence: expected, Reason: "sequence gap"}
			}
			if e.PrevHash != prevHash {
				return &TamperError{Sequence: e.Sequence, Reason: "chain linkage broken"}
			}
			if recomputed := e.Recompute(); recomputed != e.EntryHash {
				return &TamperError{Sequence: e.Sequence, Reason: "entry hash mismatch"}
			}
			prevHash = e.EntryHash
			expected = e.Sequence + 1
		}
	}
	return nil
}

// VerifyAll verifies the whole chain from genesis to the current tail.
func (l *Ledger) VerifyAll(ctx context.Context) error {
	return l.Verify(ctx, 0, math.MaxUint64)
}

// Query returns a cursor over entries matching the filter, in sequence
// order. The cursor is read-only and restartable: calling Query again
// re-scans from the filter's start.
func (l *Ledger) Query(filter Filter) *Cursor {
	return &Cursor{
		store:  l.store,
		filter: filter,
		batch:  defaultBatchSize,
	}
}

// Cursor lazily walks ledger entries matching a filter. It holds no
// database resources between Next calls; each refill is a fresh bounded
// scan resuming after the last delivered sequence.
type Cursor struct {
	store  EntryStore
	filter Filter
	batch  int

	buf  []Entry
	pos  int
	done bool
}

// Next returns the next matching entry, or nil when the scan is finished.
func (c *Cursor) Next(ctx context.Context) (*Entry, error) {
	if c.pos >= len(c.buf) && !c.done {
		if err := c.refill(ctx); err != nil {
			return nil, err
		}
	}
	if c.pos >= len(c.buf) {
		return nil, nil
	}
	e := c.buf[c.pos]
	c.pos++
	return &e, nil
}

func (c *Cursor) refill(ctx context.Context) error {
	batch, err := c.store.Find(ctx, c.filter, c.batch)
	if err != nil {
		return fmt.Errorf("ledger: query scan failed: %w", err)
	}
	c.buf = batch
	c.pos = 0
	if len(batch) < c.batch {
		c.done = true
	}
	if len(batch) > 0 {
		c.filter.StartSequence = batch[len(batch)-1].Sequence + 1
	}
	return nil
}
