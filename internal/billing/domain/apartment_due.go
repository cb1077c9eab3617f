package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DueStatus is the payment state of one apartment's due.
type DueStatus string

const (
	DueUnpaid  DueStatus = "unpaid"
	DuePaid    DueStatus = "paid"
	DueOverdue DueStatus = "overdue"
)

// ApartmentDue is the amount one apartment owes for a period.
type ApartmentDue struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	DefinitionID   string          `json:"definition_id,omitempty"`
	ApartmentID    string          `json:"apartment_id"`
	ResidentID     string          `json:"resident_id,omitempty"`
	Period         Period          `json:"period"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         DueStatus       `json:"status"`
	DueDate        time.Time       `json:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PaymentOrderID string          `json:"payment_order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewApartmentDue builds an unpaid due for apartmentID from a definition.
func NewApartmentDue(id string, def *DueDefinition, apartmentID, residentID string, now time.Time) ApartmentDue {
	return ApartmentDue{
		ID:           id,
		TenantID:     def.TenantID,
		DefinitionID: def.ID,
		ApartmentID:  apartmentID,
		ResidentID:   residentID,
		Period:       def.Period,
		Amount:       def.PerApartmentAmount,
		Currency:     def.Currency,
		Status:       DueUnpaid,
		DueDate:      def.DueDate,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// MarkPaid settles the due. Overdue dues may still be paid late.
func (d *ApartmentDue) MarkPaid(at time.Time, orderID string) error {
	if d.Status == DuePaid {
		return ErrInvalidTransition
	}
	paidAt := at.UTC()
	d.Status = DuePaid
	d.PaidAt = &paidAt
	d.PaymentOrderID = orderID
	d.UpdatedAt = paidAt
	return nil
}

// MarkOverdue moves an unpaid due past its due date to overdue.
func (d *ApartmentDue) MarkOverdue(now time.Time) bool {
	if d.Status != DueUnpaid || !IsPastDue(d.DueDate, now) {
		return false
	}
	d.Status = DueOverdue
	d.UpdatedAt = now.UTC()
	return true
}

// IsPastDue reports whether now is after the end of the due day.
func IsPastDue(dueDate, now time.Time) bool {
	endOfDay := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return !now.UTC().Before(endOfDay)
}

// OverdueCutoff returns the due date before which unpaid dues are overdue at now.
func OverdueCutoff(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// CollectionSummary aggregates the dues of one definition.
type CollectionSummary struct {
	DefinitionID  string          `json:"definition_id"`
	Count         int             `json:"count"`
	PaidCount     int             `json:"paid_count"`
	UnpaidCount   int             `json:"unpaid_count"`
	OverdueCount  int             `json:"overdue_count"`
	Billed        decimal.Decimal `json:"billed"`
	Collected     decimal.Decimal `json:"collected"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	CollectionPct decimal.Decimal `json:"collection_pct"`
}

// Summarize folds dues into a summary.
func Summarize(definitionID string, dues []ApartmentDue) CollectionSummary {
	summary := CollectionSummary{
		DefinitionID: definitionID,
		Billed:       decimal.Zero,
		Collected:    decimal.Zero,
		Outstanding:  decimal.Zero,
	}
	for _, due := range dues {
		summary.Count++
		summary.Billed = summary.Billed.Add(due.Amount)
		switch due.Status {
		case DuePaid:
			summary.PaidCount++
			summary.Collected = summary.Collected.Add(due.Amount)
		case DueOverdue:
			summary.OverdueCount++
			summary.Outstanding = summary.Outstanding.Add(due.Amount)
		default:
			summary.UnpaidCount++
			summary.Outstanding = summary.Outstanding.Add(due.Amount)
		}
	}
	if summary.Billed.IsPositive() {
		summary.CollectionPct = summary.Collected.Mul(decimal.NewFromInt(100)).DivRound(summary.Billed, 2)
	}
	return summary
}

// ApartmentDueRepository persists apartment dues.
type ApartmentDueRepository interface {
	CreateMany(ctx context.Context, dues []ApartmentDue) (int, error)
	Get(ctx context.Context, tenantID, id string) (*ApartmentDue, error)
	ListByDefinition(ctx context.Context, tenantID, definitionID string) ([]ApartmentDue, error)
	Save(ctx context.Context, due *ApartmentDue) error
	MarkOverdue(ctx context.Context, cutoff, now time.Time) (int, error)
}
