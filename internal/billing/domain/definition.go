package billing

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	periodLayout = "2006-01"
	maxPeriodLen = 64
)

// Period is an operator-chosen billing label such as "2025-01" or "Ocak 2025".
type Period string

// ParsePeriod trims the label and rejects empty or oversized values.
func ParsePeriod(value string) (Period, error) {
	value = strings.TrimSpace(value)
	if value == "" || utf8.RuneCountInString(value) > maxPeriodLen {
		return "", ErrInvalidPeriod
	}
	return Period(value), nil
}

// Start returns the first instant of a YYYY-MM period, or the first day of
// the year found in a free-text label. It is zero when neither applies.
func (p Period) Start() time.Time {
	if t, err := time.Parse(periodLayout, string(p)); err == nil {
		return t.UTC()
	}
	if year := p.Year(); year != 0 {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// Year returns the first four-digit year in the label, or 0.
func (p Period) Year() int {
	for _, field := range strings.FieldsFunc(string(p), func(r rune) bool { return !unicode.IsDigit(r) }) {
		if len(field) != 4 {
			continue
		}
		if year, err := strconv.Atoi(field); err == nil {
			return year
		}
	}
	return 0
}

// DefinitionInput carries the operator-editable fields of a definition.
type DefinitionInput struct {
	TenantID             string
	Period               string
	Items                []ExpenseItem
	DueDate              time.Time
	Currency             string
	ApartmentCount       int
	SuppliedPerApartment *decimal.Decimal
}

// DueDefinition is the monthly expense list of a tenant and its per-apartment share.
type DueDefinition struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	Period             Period          `json:"period"`
	Items              []ExpenseItem   `json:"expense_items"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PerApartmentAmount decimal.Decimal `json:"per_apartment_amount"`
	ApartmentCount     int             `json:"apartment_count"`
	Currency           string          `json:"currency"`
	DueDate            time.Time       `json:"due_date"`
	IsSent             bool            `json:"is_sent"`
	SentAt             *time.Time      `json:"sent_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// NewDueDefinition validates input and computes the allocation.
func NewDueDefinition(id string, in DefinitionInput, now time.Time) (*DueDefinition, error) {
	period, err := ParsePeriod(in.Period)
	if err != nil {
		return nil, err
	}
	def := &DueDefinition{
		ID:        id,
		TenantID:  in.TenantID,
		Period:    period,
		Currency:  strings.ToUpper(in.Currency),
		CreatedAt: now.UTC(),
	}
	if err := def.apply(in, now); err != nil {
		return nil, err
	}
	return def, nil
}

// Revise replaces items and due date while the definition is unsent.
func (d *DueDefinition) Revise(in DefinitionInput, now time.Time) error {
	if d.IsSent {
		return ErrAlreadySent
	}
	return d.apply(in, now)
}

func (d *DueDefinition) apply(in DefinitionInput, now time.Time) error {
	if in.DueDate.IsZero() {
		return ErrMissingDueDate
	}
	alloc, err := Allocate(in.Items, in.ApartmentCount, d.Currency)
	if err != nil {
		return err
	}
	if err := alloc.CheckSupplied(in.SuppliedPerApartment, d.Currency); err != nil {
		return err
	}
	d.Items = append([]ExpenseItem(nil), in.Items...)
	d.TotalAmount = alloc.Total
	d.PerApartmentAmount = alloc.PerApartment
	d.ApartmentCount = alloc.ApartmentCount
	d.DueDate = in.DueDate.UTC()
	d.UpdatedAt = now.UTC()
	return nil
}

// MarkSent flags the definition as dispatched. The first send time is kept.
func (d *DueDefinition) MarkSent(at time.Time) bool {
	if d.IsSent {
		return false
	}
	sentAt := at.UTC()
	d.IsSent = true
	d.SentAt = &sentAt
	d.UpdatedAt = sentAt
	return true
}

// Clone returns a deep copy.
func (d *DueDefinition) Clone() *DueDefinition {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Items = append([]ExpenseItem(nil), d.Items...)
	if d.SentAt != nil {
		sentAt := *d.SentAt
		cp.SentAt = &sentAt
	}
	return &cp
}

// ListFilter narrows definition listings.
type ListFilter struct {
	Year int
	Sent *bool
}

// DefinitionRepository persists due definitions.
type DefinitionRepository interface {
	Create(ctx context.Context, def *DueDefinition) error
	Update(ctx context.Context, def *DueDefinition) error
	Delete(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*DueDefinition, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]DueDefinition, error)
	MarkSent(ctx context.Context, tenantID, id string, at time.Time) error
}
