package credential

import (
	"context"
	"sync"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
)

// MemoryStateStore is an in-memory StateStore for single-instance
// deployments and tests.
type MemoryStateStore struct {
	mu    sync.RWMutex
	creds map[string]integration.Credential
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		creds: make(map[string]integration.Credential),
	}
}

var _ StateStore = (*MemoryStateStore)(nil)

// Load returns the stored credential, or shared.ErrNotFound
func (s *MemoryStateStore) Load(_ context.Context, connectorID string) (*integration.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[connectorID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := cred
	return &copied, nil
}

// Save upserts the credential
func (s *MemoryStateStore) Save(_ context.Context, cred *integration.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.ConnectorID] = *cred
	return nil
}

// Delete removes the credential
func (s *MemoryStateStore) Delete(_ context.Context, connectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, connectorID)
	return nil
}
