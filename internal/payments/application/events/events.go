package events

import "time"

// StatusChanged is emitted whenever a payment transaction moves state.
type StatusChanged struct {
	TransactionID string
	TenantID      string
	OrderID       string
	DueID         string
	From          string
	To            string
	Amount        string
	Currency      string
	OccurredAt    time.Time
}

// EventName is the stable outbox type name.
func (StatusChanged) EventName() string { return "payments.status_changed" }
