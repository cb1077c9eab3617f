package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	billing "building-cloud/internal/billing/domain"
)

// DefinitionRepository is an in-memory definition store for demo/testing.
type DefinitionRepository struct {
	mu   sync.RWMutex
	data map[string]*billing.DueDefinition
}

// NewDefinitionRepository constructs a repository.
func NewDefinitionRepository() *DefinitionRepository {
	return &DefinitionRepository{data: make(map[string]*billing.DueDefinition)}
}

// Create stores a new definition. One definition per tenant and period.
func (r *DefinitionRepository) Create(_ context.Context, def *billing.DueDefinition) error {
	if def == nil {
		return errors.New("definition repo: nil definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data {
		if existing.TenantID == def.TenantID && existing.Period == def.Period {
			return billing.ErrConflict
		}
	}
	if _, ok := r.data[def.ID]; ok {
		return billing.ErrConflict
	}
	r.data[def.ID] = def.Clone()
	return nil
}

// Update replaces an unsent definition.
func (r *DefinitionRepository) Update(_ context.Context, def *billing.DueDefinition) error {
	if def == nil {
		return errors.New("definition repo: nil definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[def.ID]
	if !ok || existing.TenantID != def.TenantID {
		return billing.ErrNotFound
	}
	if existing.IsSent {
		return billing.ErrAlreadySent
	}
	r.data[def.ID] = def.Clone()
	return nil
}

// Delete removes an unsent definition.
func (r *DefinitionRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[id]
	if !ok || existing.TenantID != tenantID {
		return billing.ErrNotFound
	}
	if existing.IsSent {
		return billing.ErrAlreadySent
	}
	delete(r.data, id)
	return nil
}

// Get returns nil when the definition does not exist.
func (r *DefinitionRepository) Get(_ context.Context, tenantID, id string) (*billing.DueDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.data[id]
	if !ok || def.TenantID != tenantID {
		return nil, nil
	}
	return def.Clone(), nil
}

// List returns the tenant's definitions, newest period first.
func (r *DefinitionRepository) List(_ context.Context, tenantID string, filter billing.ListFilter) ([]billing.DueDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]billing.DueDefinition, 0)
	for _, def := range r.data {
		if def.TenantID != tenantID {
			continue
		}
		if filter.Year != 0 && def.Period.Year() != filter.Year {
			continue
		}
		if filter.Sent != nil && def.IsSent != *filter.Sent {
			continue
		}
		result = append(result, *def.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period > result[j].Period })
	return result, nil
}

// MarkSent flags a definition as sent, keeping the first send time.
func (r *DefinitionRepository) MarkSent(_ context.Context, tenantID, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.data[id]
	if !ok || def.TenantID != tenantID {
		return billing.ErrNotFound
	}
	def.MarkSent(at)
	return nil
}

// ApartmentDueRepository is an in-memory due store for demo/testing.
type ApartmentDueRepository struct {
	mu   sync.RWMutex
	data map[string]billing.ApartmentDue
}

// NewApartmentDueRepository constructs a repository.
func NewApartmentDueRepository() *ApartmentDueRepository {
	return &ApartmentDueRepository{data: make(map[string]billing.ApartmentDue)}
}

// CreateMany inserts dues, skipping apartments already billed for the period.
func (r *ApartmentDueRepository) CreateMany(_ context.Context, dues []billing.ApartmentDue) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := 0
	for _, due := range dues {
		if r.exists(due.TenantID, due.ApartmentID, due.Period) {
			continue
		}
		r.data[due.ID] = due
		created++
	}
	return created, nil
}

func (r *ApartmentDueRepository) exists(tenantID, apartmentID string, period billing.Period) bool {
	for _, due := range r.data {
		if due.TenantID == tenantID && due.ApartmentID == apartmentID && due.Period == period {
			return true
		}
	}
	return false
}

// Get returns nil when the due does not exist.
func (r *ApartmentDueRepository) Get(_ context.Context, tenantID, id string) (*billing.ApartmentDue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	due, ok := r.data[id]
	if !ok || due.TenantID != tenantID {
		return nil, nil
	}
	return &due, nil
}

// ListByDefinition lists the dues generated from a definition.
func (r *ApartmentDueRepository) ListByDefinition(_ context.Context, tenantID, definitionID string) ([]billing.ApartmentDue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]billing.ApartmentDue, 0)
	for _, due := range r.data {
		if due.TenantID == tenantID && due.DefinitionID == definitionID {
			result = append(result, due)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ApartmentID < result[j].ApartmentID })
	return result, nil
}

// Save replaces a due.
func (r *ApartmentDueRepository) Save(_ context.Context, due *billing.ApartmentDue) error {
	if due == nil {
		return errors.New("due repo: nil due")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[due.ID]; !ok {
		return billing.ErrNotFound
	}
	r.data[due.ID] = *due
	return nil
}

// MarkOverdue flips unpaid dues with a due date before cutoff.
func (r *ApartmentDueRepository) MarkOverdue(_ context.Context, cutoff, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, due := range r.data {
		if due.Status != billing.DueUnpaid || !due.DueDate.Before(cutoff) {
			continue
		}
		due.Status = billing.DueOverdue
		due.UpdatedAt = now.UTC()
		r.data[id] = due
		count++
	}
	return count, nil
}
