package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/persistence/models"
)

// GormCredentialStateRepository persists connector token material using GORM.
// It backs the credential store when Redis is not configured.
type GormCredentialStateRepository struct {
	db *gorm.DB
}

// NewGormCredentialStateRepository creates a new GormCredentialStateRepository
func NewGormCredentialStateRepository(db *gorm.DB) *GormCredentialStateRepository {
	return &GormCredentialStateRepository{db: db}
}

// Load returns the stored credential for a connector
func (r *GormCredentialStateRepository) Load(ctx context.Context, connectorID string) (*integration.Credential, error) {
	var model models.CredentialStateModel
	err := r.db.WithContext(ctx).
		Where("connector_id = ?", connectorID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save upserts the credential for a connector
func (r *GormCredentialStateRepository) Save(ctx context.Context, cred *integration.Credential) error {
	model := models.CredentialStateModelFromDomain(cred)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connector_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// Delete removes the stored credential for a connector
func (r *GormCredentialStateRepository) Delete(ctx context.Context, connectorID string) error {
	return r.db.WithContext(ctx).
		Where("connector_id = ?", connectorID).
		Delete(&models.CredentialStateModel{}).Error
}
