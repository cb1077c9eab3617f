package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	billing "building-cloud/internal/billing/domain"
)

const defaultApartmentDuesTable = "apartment_dues"

const dueColumns = `id, tenant_id, definition_id, apartment_id, resident_id, period, amount, currency,
	status, due_date, paid_at, payment_order_id, created_at, updated_at`

// ApartmentDueRepository is a Postgres implementation for apartment dues.
type ApartmentDueRepository struct {
	db    DBTX
	table string
}

// ApartmentDueOption configures the repository.
type ApartmentDueOption func(*ApartmentDueRepository)

// WithApartmentDuesTable overrides the default table name.
func WithApartmentDuesTable(table string) ApartmentDueOption {
	return func(repo *ApartmentDueRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewApartmentDueRepository constructs a repository.
func NewApartmentDueRepository(db DBTX, opts ...ApartmentDueOption) *ApartmentDueRepository {
	repo := &ApartmentDueRepository{db: db, table: defaultApartmentDuesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CreateMany inserts dues and skips apartments already billed for the period.
func (r *ApartmentDueRepository) CreateMany(ctx context.Context, dues []billing.ApartmentDue) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("due repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, definition_id, apartment_id, resident_id, period, amount, currency,
	status, due_date, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (tenant_id, apartment_id, period) DO NOTHING`, r.table)
	created := 0
	for _, due := range dues {
		res, err := r.db.ExecContext(ctx, query,
			due.ID, due.TenantID, due.DefinitionID, due.ApartmentID, due.ResidentID, string(due.Period),
			due.Amount, due.Currency, string(due.Status), due.DueDate, due.CreatedAt, due.UpdatedAt,
		)
		if err != nil {
			return created, err
		}
		if n, err := res.RowsAffected(); err == nil {
			created += int(n)
		}
	}
	return created, nil
}

// Get returns nil when the due does not exist.
func (r *ApartmentDueRepository) Get(ctx context.Context, tenantID, id string) (*billing.ApartmentDue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("due repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, dueColumns, r.table)
	return scanDue(r.db.QueryRowContext(ctx, query, tenantID, id))
}

// ListByDefinition lists dues generated from a definition.
func (r *ApartmentDueRepository) ListByDefinition(ctx context.Context, tenantID, definitionID string) ([]billing.ApartmentDue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("due repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND definition_id = $2
ORDER BY apartment_id ASC`, dueColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.ApartmentDue
	for rows.Next() {
		due, err := scanDue(rows)
		if err != nil {
			return nil, err
		}
		if due != nil {
			result = append(result, *due)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save writes the mutable state of a due.
func (r *ApartmentDueRepository) Save(ctx context.Context, due *billing.ApartmentDue) error {
	if r == nil || r.db == nil {
		return errors.New("due repo: nil db")
	}
	if due == nil {
		return errors.New("due repo: nil due")
	}
	var paidAt any
	if due.PaidAt != nil {
		paidAt = *due.PaidAt
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	paid_at = $2,
	payment_order_id = NULLIF($3, ''),
	updated_at = $4
WHERE tenant_id = $5 AND id = $6`, r.table)
	res, err := r.db.ExecContext(ctx, query, string(due.Status), paidAt, due.PaymentOrderID, due.UpdatedAt, due.TenantID, due.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// MarkOverdue flips unpaid dues whose due date is before cutoff.
func (r *ApartmentDueRepository) MarkOverdue(ctx context.Context, cutoff, now time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("due repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, updated_at = $2
WHERE status = $3 AND due_date < $4`, r.table)
	res, err := r.db.ExecContext(ctx, query, string(billing.DueOverdue), now.UTC(), string(billing.DueUnpaid), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanDue(row rowScanner) (*billing.ApartmentDue, error) {
	var due billing.ApartmentDue
	var definitionID, residentID, orderID sql.NullString
	var period, status string
	var paidAt sql.NullTime
	err := row.Scan(
		&due.ID,
		&due.TenantID,
		&definitionID,
		&due.ApartmentID,
		&residentID,
		&period,
		&due.Amount,
		&due.Currency,
		&status,
		&due.DueDate,
		&paidAt,
		&orderID,
		&due.CreatedAt,
		&due.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	due.DefinitionID = definitionID.String
	due.ResidentID = residentID.String
	due.PaymentOrderID = orderID.String
	due.Period = billing.Period(period)
	due.Status = billing.DueStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		due.PaidAt = &t
	}
	due.DueDate = due.DueDate.UTC()
	due.CreatedAt = due.CreatedAt.UTC()
	due.UpdatedAt = due.UpdatedAt.UTC()
	return &due, nil
}
