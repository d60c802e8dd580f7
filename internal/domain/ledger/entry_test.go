package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEntryHash(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	t.Run("is deterministic", func(t *testing.T) {
		a := ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts)
		b := ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("any field change changes the hash", func(t *testing.T) {
		base := ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts)

		assert.NotEqual(t, base, ComputeEntryHash("other", 0, "AI:Accountant", "zoho.create_invoice", "digest", ts))
		assert.NotEqual(t, base, ComputeEntryHash(GenesisHash, 1, "AI:Accountant", "zoho.create_invoice", "digest", ts))
		assert.NotEqual(t, base, ComputeEntryHash(GenesisHash, 0, "AI:CFO", "zoho.create_invoice", "digest", ts))
		assert.NotEqual(t, base, ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "wio.get_balance", "digest", ts))
		assert.NotEqual(t, base, ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "other", ts))
		assert.NotEqual(t, base, ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts.Add(time.Microsecond)))
	})

	t.Run("sub-microsecond precision does not participate", func(t *testing.T) {
		// TIMESTAMPTZ stores microseconds, so finer precision must not
		// change the hash or every read-back would look tampered
		base := ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts)
		assert.Equal(t, base, ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts.Add(time.Nanosecond)))
		assert.Equal(t, base, ComputeEntryHash(GenesisHash, 0, "AI:Accountant", "zoho.create_invoice", "digest", ts.Truncate(time.Microsecond)))
	})

	t.Run("timestamps normalize to UTC before hashing", func(t *testing.T) {
		zone := time.FixedZone("GST", 4*3600)
		local := ts.In(zone)
		assert.Equal(t,
			ComputeEntryHash(GenesisHash, 0, "a", "b", "d", ts),
			ComputeEntryHash(GenesisHash, 0, "a", "b", "d", local),
		)
	})
}

func TestEntry_Recompute(t *testing.T) {
	entry := &Entry{
		ID:            uuid.New(),
		Sequence:      3,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:         "AI:Accountant",
		Action:        "wio.fetch_transactions",
		PayloadDigest: "abc",
		PrevHash:      "prev",
	}
	entry.EntryHash = entry.Recompute()

	assert.Equal(t, entry.EntryHash, entry.Recompute())

	entry.Actor = "AI:CFO"
	assert.NotEqual(t, entry.EntryHash, entry.Recompute())
}

func TestDigestPayload(t *testing.T) {
	t.Run("key order does not matter", func(t *testing.T) {
		a, err := DigestPayload(map[string]any{"amount": "10.00", "customer": "acme"})
		require.NoError(t, err)
		b, err := DigestPayload(map[string]any{"customer": "acme", "amount": "10.00"})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("struct and equivalent map digest identically", func(t *testing.T) {
		type invoice struct {
			Amount   string `json:"amount"`
			Customer string `json:"customer"`
		}
		a, err := DigestPayload(invoice{Amount: "10.00", Customer: "acme"})
		require.NoError(t, err)
		b, err := DigestPayload(map[string]any{"customer": "acme", "amount": "10.00"})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("nil digests the JSON null literal", func(t *testing.T) {
		got, err := DigestPayload(nil)
		require.NoError(t, err)

		sum := sha256.Sum256([]byte("null"))
		assert.Equal(t, hex.EncodeToString(sum[:]), got)
	})

	t.Run("unserializable payload is rejected", func(t *testing.T) {
		_, err := DigestPayload(map[string]any{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", Success().String())
	assert.Equal(t, "failure:transient", Failure("transient").String())
}
