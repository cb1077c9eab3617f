package postgres

import (
	"context"
	"errors"
	"fmt"

	masterdata "building-cloud/internal/masterdata/domain"
)

const defaultResidentsTable = "residents"

// ResidentRepository reads residents.
type ResidentRepository struct {
	db    DBTX
	table string
}

// NewResidentRepository constructs a repository.
func NewResidentRepository(db DBTX) *ResidentRepository {
	return &ResidentRepository{db: db, table: defaultResidentsTable}
}

// ListActive lists active residents of a tenant.
func (r *ResidentRepository) ListActive(ctx context.Context, tenantID string) ([]masterdata.Resident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("resident repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, COALESCE(apartment_id, ''), full_name, COALESCE(email, ''), COALESCE(phone, ''), is_active
FROM %s
WHERE tenant_id = $1 AND is_active = TRUE
ORDER BY full_name ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Resident
	for rows.Next() {
		var res masterdata.Resident
		if err := rows.Scan(&res.ID, &res.TenantID, &res.ApartmentID, &res.FullName, &res.Email, &res.Phone, &res.Active); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}
