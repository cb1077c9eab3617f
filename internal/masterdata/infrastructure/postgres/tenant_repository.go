package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "building-cloud/internal/masterdata/domain"
)

const (
	defaultTenantsTable    = "tenants"
	defaultApartmentsTable = "apartments"
)

// TenantRepository reads tenants with their apartment count.
type TenantRepository struct {
	db              DBTX
	table           string
	apartmentsTable string
}

// TenantOption configures the repository.
type TenantOption func(*TenantRepository)

// WithTenantTable overrides the default table name.
func WithTenantTable(table string) TenantOption {
	return func(repo *TenantRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewTenantRepository constructs a repository.
func NewTenantRepository(db DBTX, opts ...TenantOption) *TenantRepository {
	repo := &TenantRepository{db: db, table: defaultTenantsTable, apartmentsTable: defaultApartmentsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a tenant by id. Returns nil when absent.
func (r *TenantRepository) Get(ctx context.Context, id string) (*masterdata.Tenant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tenant repo: nil db")
	}
	if id == "" {
		return nil, errors.New("tenant repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT t.id, t.name, t.currency, t.created_at,
	(SELECT COUNT(*) FROM %s a WHERE a.tenant_id = t.id)
FROM %s t
WHERE t.id = $1
LIMIT 1`, r.apartmentsTable, r.table)

	var tenant masterdata.Tenant
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Currency,
		&tenant.CreatedAt,
		&tenant.ApartmentCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	tenant.CreatedAt = tenant.CreatedAt.UTC()
	return &tenant, nil
}
