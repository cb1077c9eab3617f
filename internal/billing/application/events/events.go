package events

import "time"

// DueDefinitionSent is emitted the first time a definition is dispatched.
type DueDefinitionSent struct {
	DefinitionID string
	TenantID     string
	Period       string
	SentCount    int
	OccurredAt   time.Time
}

// ApartmentDueSettled is emitted when an apartment due becomes paid.
type ApartmentDueSettled struct {
	DueID          string
	TenantID       string
	ApartmentID    string
	Period         string
	Amount         string
	PaymentOrderID string
	OccurredAt     time.Time
}

// EventName is the stable outbox type name.
func (DueDefinitionSent) EventName() string { return "billing.due_definition_sent" }

// EventName is the stable outbox type name.
func (ApartmentDueSettled) EventName() string { return "billing.apartment_due_settled" }
