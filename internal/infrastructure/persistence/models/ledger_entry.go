package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cmp/backend/internal/domain/ledger"
)

// LedgerEntryModel is the persistence model for one audit ledger entry.
// Sequence is the primary key and is assigned by the single ledger writer,
// never by the database.
type LedgerEntryModel struct {
	Sequence      uint64    `gorm:"primaryKey;autoIncrement:false"`
	ID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Timestamp     time.Time `gorm:"not null;index"`
	Actor         string    `gorm:"type:varchar(200);not null;index"`
	Action        string    `gorm:"type:varchar(200);not null;index"`
	PayloadDigest string    `gorm:"type:char(64);not null"`
	PrevHash      string    `gorm:"type:varchar(64);not null"`
	EntryHash     string    `gorm:"type:char(64);not null"`
	OutcomeStatus string    `gorm:"type:varchar(20);not null"`
	FailureKind   string    `gorm:"type:varchar(20)"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// ToDomain converts the persistence model to a domain ledger entry.
func (m *LedgerEntryModel) ToDomain() *ledger.Entry {
	return &ledger.Entry{
		ID:            m.ID,
		Sequence:      m.Sequence,
		Timestamp:     m.Timestamp.UTC(),
		Actor:         m.Actor,
		Action:        m.Action,
		PayloadDigest: m.PayloadDigest,
		PrevHash:      m.PrevHash,
		EntryHash:     m.EntryHash,
		Outcome: ledger.Outcome{
			Status:      ledger.Status(m.OutcomeStatus),
			FailureKind: m.FailureKind,
		},
	}
}

// LedgerEntryModelFromDomain converts a domain ledger entry to its
// persistence model.
func LedgerEntryModelFromDomain(e *ledger.Entry) *LedgerEntryModel {
	return &LedgerEntryModel{
		Sequence:      e.Sequence,
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC(),
		Actor:         e.Actor,
		Action:        e.Action,
		PayloadDigest: e.PayloadDigest,
		PrevHash:      e.PrevHash,
		EntryHash:     e.EntryHash,
		OutcomeStatus: string(e.Outcome.Status),
		FailureKind:   e.Outcome.FailureKind,
	}
}
