package memory

import (
	"context"
	"errors"
	"sync"

	"building-cloud/internal/providers"
)

// Store is an in-memory provider config store.
type Store struct {
	mu       sync.RWMutex
	sections map[string]map[providers.Provider]providers.Section
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{sections: make(map[string]map[providers.Provider]providers.Section)}
}

// Load assembles the tenant's sections into a snapshot.
func (s *Store) Load(_ context.Context, tenantID string) (providers.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := providers.TenantConfig{TenantID: tenantID}
	for _, section := range s.sections[tenantID] {
		cfg.Set(section)
	}
	return cfg, nil
}

// Save replaces one provider section of the tenant.
func (s *Store) Save(_ context.Context, tenantID string, section providers.Section) error {
	if section == nil {
		return errors.New("provider config store: nil section")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byProvider, ok := s.sections[tenantID]
	if !ok {
		byProvider = make(map[providers.Provider]providers.Section)
		s.sections[tenantID] = byProvider
	}
	byProvider[section.Provider()] = section
	return nil
}
