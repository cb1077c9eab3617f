package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	payments "building-cloud/internal/payments/domain"
)

// TransactionRepository is an in-memory transaction store for demo/testing.
type TransactionRepository struct {
	mu      sync.RWMutex
	data    map[string]*payments.Transaction
	history map[string][]payments.StatusChange
}

// NewTransactionRepository constructs a repository.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		data:    make(map[string]*payments.Transaction),
		history: make(map[string][]payments.StatusChange),
	}
}

// Create stores a new pending transaction and opens its history.
func (r *TransactionRepository) Create(_ context.Context, tx *payments.Transaction) error {
	if tx == nil {
		return errors.New("transaction repo: nil transaction")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data {
		if existing.TenantID == tx.TenantID && existing.OrderID == tx.OrderID {
			return payments.ErrDuplicateOrder
		}
	}
	r.data[tx.ID] = tx.Clone()
	r.history[tx.ID] = append(r.history[tx.ID], payments.StatusChange{
		TransactionID: tx.ID,
		To:            tx.Status,
		Reason:        "session created",
		OccurredAt:    tx.CreatedAt,
	})
	return nil
}

// FindByOrderID returns the tenant's transaction for orderID or nil.
func (r *TransactionRepository) FindByOrderID(ctx context.Context, tenantID, orderID string) (*payments.Transaction, error) {
	return r.find(ctx, func(tx *payments.Transaction) bool {
		return tx.TenantID == tenantID && tx.OrderID == orderID
	})
}

// FindBySessionToken returns the tenant's transaction for token or nil.
func (r *TransactionRepository) FindBySessionToken(ctx context.Context, tenantID, token string) (*payments.Transaction, error) {
	return r.find(ctx, func(tx *payments.Transaction) bool {
		return tx.TenantID == tenantID && tx.SessionToken == token
	})
}

func (r *TransactionRepository) find(_ context.Context, match func(*payments.Transaction) bool) (*payments.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.data {
		if match(tx) {
			return tx.Clone(), nil
		}
	}
	return nil, nil
}

// Save replaces the transaction and appends change to its history.
func (r *TransactionRepository) Save(_ context.Context, tx *payments.Transaction, change *payments.StatusChange) error {
	if tx == nil {
		return errors.New("transaction repo: nil transaction")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[tx.ID]
	if !ok || existing.TenantID != tx.TenantID {
		return payments.ErrNotFound
	}
	r.data[tx.ID] = tx.Clone()
	if change != nil {
		r.history[tx.ID] = append(r.history[tx.ID], *change)
	}
	return nil
}

// List returns a tenant's transactions, newest first.
func (r *TransactionRepository) List(_ context.Context, tenantID string, filter payments.ListFilter) ([]payments.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []payments.Transaction
	for _, tx := range r.data {
		if tx.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.DueID != "" && tx.DueID != filter.DueID {
			continue
		}
		out = append(out, *tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// History returns the status changes of a transaction, oldest first.
func (r *TransactionRepository) History(_ context.Context, tenantID, transactionID string) ([]payments.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.data[transactionID]
	if !ok || tx.TenantID != tenantID {
		return nil, payments.ErrNotFound
	}
	return append([]payments.StatusChange(nil), r.history[transactionID]...), nil
}
