package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "building-cloud/internal/masterdata/domain"
)

// ApartmentRepository reads apartments.
type ApartmentRepository struct {
	db    DBTX
	table string
}

// NewApartmentRepository constructs a repository.
func NewApartmentRepository(db DBTX) *ApartmentRepository {
	return &ApartmentRepository{db: db, table: defaultApartmentsTable}
}

// Get loads an apartment scoped to a tenant. Returns nil when absent.
func (r *ApartmentRepository) Get(ctx context.Context, tenantID, id string) (*masterdata.Apartment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("apartment repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, block, number, floor
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, r.table)
	var apt masterdata.Apartment
	if err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(&apt.ID, &apt.TenantID, &apt.Block, &apt.Number, &apt.Floor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &apt, nil
}

// ListByTenant lists apartments of a tenant ordered by block and number.
func (r *ApartmentRepository) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Apartment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("apartment repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, block, number, floor
FROM %s
WHERE tenant_id = $1
ORDER BY block ASC, number ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Apartment
	for rows.Next() {
		var apt masterdata.Apartment
		if err := rows.Scan(&apt.ID, &apt.TenantID, &apt.Block, &apt.Number, &apt.Floor); err != nil {
			return nil, err
		}
		result = append(result, apt)
	}
	return result, rows.Err()
}
