package models

import (
	"time"

	"github.com/cmp/backend/internal/domain/integration"
)

// CredentialStateModel is the persistence model for one connector's token
// material. One row per connector.
type CredentialStateModel struct {
	ConnectorID string    `gorm:"type:varchar(100);primaryKey"`
	AccessToken string    `gorm:"type:text;not null"`
	IssuedAt    time.Time `gorm:"not null"`
	ExpiresAt   *time.Time
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CredentialStateModel) TableName() string {
	return "credential_states"
}

// ToDomain converts the persistence model to a domain credential.
func (m *CredentialStateModel) ToDomain() *integration.Credential {
	cred := &integration.Credential{
		ConnectorID: m.ConnectorID,
		AccessToken: m.AccessToken,
		IssuedAt:    m.IssuedAt.UTC(),
	}
	if m.ExpiresAt != nil {
		cred.ExpiresAt = m.ExpiresAt.UTC()
	}
	return cred
}

// CredentialStateModelFromDomain converts a domain credential to its
// persistence model.
func CredentialStateModelFromDomain(c *integration.Credential) *CredentialStateModel {
	m := &CredentialStateModel{
		ConnectorID: c.ConnectorID,
		AccessToken: c.AccessToken,
		IssuedAt:    c.IssuedAt.UTC(),
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt.UTC()
		m.ExpiresAt = &expires
	}
	return m
}
