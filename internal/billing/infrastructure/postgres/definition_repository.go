package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	billing "building-cloud/internal/billing/domain"
)

const defaultDefinitionsTable = "due_definitions"

const definitionColumns = `id, tenant_id, period, expense_items, total_amount, per_apartment_amount,
	apartment_count, currency, due_date, is_sent, sent_at, created_at, updated_at`

// DefinitionRepository is a Postgres implementation for due definitions.
type DefinitionRepository struct {
	db    DBTX
	table string
}

// DefinitionOption configures the repository.
type DefinitionOption func(*DefinitionRepository)

// WithDefinitionsTable overrides the default table name.
func WithDefinitionsTable(table string) DefinitionOption {
	return func(repo *DefinitionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDefinitionRepository constructs a repository.
func NewDefinitionRepository(db DBTX, opts ...DefinitionOption) *DefinitionRepository {
	repo := &DefinitionRepository{db: db, table: defaultDefinitionsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts a definition. A second definition for the same period is a conflict.
func (r *DefinitionRepository) Create(ctx context.Context, def *billing.DueDefinition) error {
	if r == nil || r.db == nil {
		return errors.New("definition repo: nil db")
	}
	if def == nil {
		return errors.New("definition repo: nil definition")
	}
	items, err := json.Marshal(def.Items)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, period, expense_items, total_amount, per_apartment_amount,
	apartment_count, currency, due_date, is_sent, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11
)`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.TenantID, string(def.Period), items, def.TotalAmount, def.PerApartmentAmount,
		def.ApartmentCount, def.Currency, def.DueDate, def.CreatedAt, def.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return billing.ErrConflict
	}
	return err
}

// Update replaces the editable columns of an unsent definition.
func (r *DefinitionRepository) Update(ctx context.Context, def *billing.DueDefinition) error {
	if r == nil || r.db == nil {
		return errors.New("definition repo: nil db")
	}
	if def == nil {
		return errors.New("definition repo: nil definition")
	}
	items, err := json.Marshal(def.Items)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET expense_items = $1,
	total_amount = $2,
	per_apartment_amount = $3,
	apartment_count = $4,
	due_date = $5,
	updated_at = $6
WHERE tenant_id = $7 AND id = $8 AND is_sent = FALSE`, r.table)
	res, err := r.db.ExecContext(ctx, query,
		items, def.TotalAmount, def.PerApartmentAmount, def.ApartmentCount, def.DueDate, def.UpdatedAt,
		def.TenantID, def.ID,
	)
	if err != nil {
		return err
	}
	return r.checkUnsentWrite(ctx, res, def.TenantID, def.ID)
}

// Delete removes an unsent definition.
func (r *DefinitionRepository) Delete(ctx context.Context, tenantID, id string) error {
	if r == nil || r.db == nil {
		return errors.New("definition repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND id = $2 AND is_sent = FALSE`, r.table)
	res, err := r.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return err
	}
	return r.checkUnsentWrite(ctx, res, tenantID, id)
}

// checkUnsentWrite tells a missing row apart from a sent one when a guarded write touched nothing.
func (r *DefinitionRepository) checkUnsentWrite(ctx context.Context, res sql.Result, tenantID, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	existing, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return billing.ErrNotFound
	}
	return billing.ErrAlreadySent
}

// Get returns nil when the definition does not exist.
func (r *DefinitionRepository) Get(ctx context.Context, tenantID, id string) (*billing.DueDefinition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("definition repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, definitionColumns, r.table)
	return scanDefinition(r.db.QueryRowContext(ctx, query, tenantID, id))
}

// List returns the tenant's definitions, newest period first.
func (r *DefinitionRepository) List(ctx context.Context, tenantID string, filter billing.ListFilter) ([]billing.DueDefinition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("definition repo: nil db")
	}
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Year != 0 {
		args = append(args, fmt.Sprintf("%%%04d%%", filter.Year))
		conds = append(conds, fmt.Sprintf("period LIKE $%d", len(args)))
	}
	if filter.Sent != nil {
		args = append(args, *filter.Sent)
		conds = append(conds, fmt.Sprintf("is_sent = $%d", len(args)))
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE %s
ORDER BY period DESC`, definitionColumns, r.table, strings.Join(conds, " AND "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.DueDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		if def != nil {
			result = append(result, *def)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent flags the definition as sent. sent_at keeps its first value.
func (r *DefinitionRepository) MarkSent(ctx context.Context, tenantID, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("definition repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET is_sent = TRUE,
	sent_at = COALESCE(sent_at, $1),
	updated_at = $1
WHERE tenant_id = $2 AND id = $3`, r.table)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), tenantID, id)
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

func scanDefinition(row rowScanner) (*billing.DueDefinition, error) {
	var def billing.DueDefinition
	var period string
	var items []byte
	var sentAt sql.NullTime
	err := row.Scan(
		&def.ID,
		&def.TenantID,
		&period,
		&items,
		&def.TotalAmount,
		&def.PerApartmentAmount,
		&def.ApartmentCount,
		&def.Currency,
		&def.DueDate,
		&def.IsSent,
		&sentAt,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	def.Period = billing.Period(period)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &def.Items); err != nil {
			return nil, fmt.Errorf("decode expense items: %w", err)
		}
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		def.SentAt = &t
	}
	def.DueDate = def.DueDate.UTC()
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return &def, nil
}
