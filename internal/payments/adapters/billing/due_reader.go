package billing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	billing "building-cloud/internal/billing/domain"
)

// DueGetter loads one apartment due.
type DueGetter interface {
	Get(ctx context.Context, tenantID, id string) (*billing.ApartmentDue, error)
}

// DueReader exposes outstanding apartment dues to the checkout flow.
type DueReader struct {
	dues DueGetter
}

// NewDueReader constructs the adapter.
func NewDueReader(dues DueGetter) (*DueReader, error) {
	if dues == nil {
		return nil, errors.New("due reader: nil repository")
	}
	return &DueReader{dues: dues}, nil
}

// ErrDueSettled indicates the due was already paid.
var ErrDueSettled = errors.New("due reader: due already paid")

// DueAmount returns the outstanding amount and currency of an unpaid due.
func (r *DueReader) DueAmount(ctx context.Context, tenantID, dueID string) (decimal.Decimal, string, error) {
	due, err := r.dues.Get(ctx, tenantID, dueID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if due == nil {
		return decimal.Zero, "", billing.ErrNotFound
	}
	if due.Status == billing.DuePaid {
		return decimal.Zero, "", ErrDueSettled
	}
	return due.Amount, due.Currency, nil
}
