package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/persistence/models"
)

// GormLedgerEntryStore implements ledger.EntryStore using GORM
type GormLedgerEntryStore struct {
	db *gorm.DB
}

// NewGormLedgerEntryStore creates a new GormLedgerEntryStore
func NewGormLedgerEntryStore(db *gorm.DB) *GormLedgerEntryStore {
	return &GormLedgerEntryStore{db: db}
}

var _ ledger.EntryStore = (*GormLedgerEntryStore)(nil)

// Insert persists one entry. The sequence primary key makes a duplicate
// append fail instead of silently forking the chain.
func (r *GormLedgerEntryStore) Insert(ctx context.Context, entry *ledger.Entry) error {
	model := models.LedgerEntryModelFromDomain(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// Tail returns the highest-sequence entry, or nil when the ledger is empty
func (r *GormLedgerEntryStore) Tail(ctx context.Context) (*ledger.Entry, error) {
	var model models.LedgerEntryModel
	err := r.db.WithContext(ctx).
		Order("sequence DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Get returns the entry at the given sequence
func (r *GormLedgerEntryStore) Get(ctx context.Context, sequence uint64) (*ledger.Entry, error) {
	var model models.LedgerEntryModel
	err := r.db.WithContext(ctx).
		Where("sequence = ?", sequence).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Range returns entries with sequence in [from, to], ascending, capped at limit
func (r *GormLedgerEntryStore) Range(ctx context.Context, from, to uint64, limit int) ([]ledger.Entry, error) {
	var entryModels []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("sequence >= ? AND sequence <= ?", from, to).
		Order("sequence ASC").
		Limit(limit).
		Find(&entryModels).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(entryModels), nil
}

// Find returns entries matching the filter, ascending by sequence, capped
// at limit
func (r *GormLedgerEntryStore) Find(ctx context.Context, filter ledger.Filter, limit int) ([]ledger.Entry, error) {
	query := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where("sequence >= ?", filter.StartSequence)

	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if filter.ActionPrefix != "" {
		query = query.Where("action LIKE ?", filter.ActionPrefix+"%")
	}
	if filter.From != nil {
		query = query.Where("timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("timestamp <= ?", filter.To.UTC())
	}

	var entryModels []models.LedgerEntryModel
	if err := query.
		Order("sequence ASC").
		Limit(limit).
		Find(&entryModels).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(entryModels), nil
}

func toDomainEntries(entryModels []models.LedgerEntryModel) []ledger.Entry {
	entries := make([]ledger.Entry, len(entryModels))
	for i := range entryModels {
		entries[i] = *entryModels[i].ToDomain()
	}
	return entries
}
