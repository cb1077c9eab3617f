package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the local state of a payment transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Environment selects the gateway endpoint.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// Customer is the payer shown on the hosted payment page.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Transaction is one payment attempt against the gateway.
type Transaction struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	OrderID          string          `json:"order_id"`
	SessionToken     string          `json:"session_token,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Customer         Customer        `json:"customer"`
	Status           Status          `json:"status"`
	Environment      Environment     `json:"environment"`
	DueID            string          `json:"due_id,omitempty"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
}

// StatusChange is one row of a transaction's history.
type StatusChange struct {
	TransactionID string    `json:"transaction_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewTransaction builds a pending transaction for a freshly opened session.
func NewTransaction(id, tenantID, orderID, sessionToken string, amount decimal.Decimal, currency string, customer Customer, env Environment, now time.Time) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now = now.UTC()
	return &Transaction{
		ID:             id,
		TenantID:       tenantID,
		OrderID:        orderID,
		SessionToken:   sessionToken,
		Amount:         amount,
		Currency:       currency,
		Customer:       customer,
		Status:         StatusPending,
		Environment:    env,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ApplyProviderStatus maps a remote session status onto the transaction.
// Only a pending transaction moves; anything else is left as is and the
// returned change is nil. Unknown remote statuses never move the record.
func (t *Transaction) ApplyProviderStatus(remote string, now time.Time) *StatusChange {
	if t.Status != StatusPending {
		return nil
	}
	var next Status
	switch strings.ToUpper(strings.TrimSpace(remote)) {
	case "COMPLETED":
		next = StatusCompleted
	case "CANCELED", "CANCELLED":
		next = StatusCancelled
	case "FAILED":
		next = StatusFailed
	default:
		return nil
	}
	return t.transition(next, "provider status "+strings.ToUpper(remote), now)
}

// MarkRefunded records a successful refund of amount.
func (t *Transaction) MarkRefunded(amount decimal.Decimal, now time.Time) (*StatusChange, error) {
	if t.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusRefunded)
	}
	if !amount.IsPositive() || amount.GreaterThan(t.Amount) {
		return nil, ErrInvalidAmount
	}
	change := t.transition(StatusRefunded, "refund "+amount.StringFixed(2), now)
	refundedAt := now.UTC()
	t.RefundedAt = &refundedAt
	t.RefundedAmount = amount
	return change, nil
}

// CheckRefundAmount validates a requested refund, defaulting to the full amount.
func (t *Transaction) CheckRefundAmount(requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested == nil {
		return t.Amount, nil
	}
	if !requested.IsPositive() || requested.GreaterThan(t.Amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return *requested, nil
}

func (t *Transaction) transition(next Status, reason string, now time.Time) *StatusChange {
	change := &StatusChange{
		TransactionID: t.ID,
		From:          t.Status,
		To:            next,
		Reason:        reason,
		OccurredAt:    now.UTC(),
	}
	t.Status = next
	t.UpdatedAt = now.UTC()
	return change
}

// NewOrderID returns YNT-YYYYMMDDhhmmss-XXXXXXXX using the first eight
// characters of suffix, upper-cased.
func NewOrderID(now time.Time, suffix string) string {
	suffix = strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("YNT-%s-%s", now.UTC().Format("20060102150405"), suffix)
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	if t.ProviderResponse != nil {
		out.ProviderResponse = append(json.RawMessage(nil), t.ProviderResponse...)
	}
	if t.RefundedAt != nil {
		at := *t.RefundedAt
		out.RefundedAt = &at
	}
	return &out
}

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	DueID  string
	Limit  int
}

// Repository persists transactions and their history.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	FindByOrderID(ctx context.Context, tenantID, orderID string) (*Transaction, error)
	FindBySessionToken(ctx context.Context, tenantID, token string) (*Transaction, error)
	// Save persists the transaction and appends change to its history
	// when change is not nil.
	Save(ctx context.Context, tx *Transaction, change *StatusChange) error
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Transaction, error)
	History(ctx context.Context, tenantID, transactionID string) ([]StatusChange, error)
}
