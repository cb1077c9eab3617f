package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "building-cloud/internal/masterdata/domain"
)

const defaultDevicesTable = "push_devices"

// DeviceRepository is a Postgres implementation for push devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Save upserts a device by (tenant, token). Re-registering moves the token to the new resident.
func (r *DeviceRepository) Save(ctx context.Context, device *masterdata.PushDevice) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	resident_id,
	token,
	platform,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (tenant_id, token)
DO UPDATE SET
	resident_id = EXCLUDED.resident_id,
	platform = EXCLUDED.platform,
	updated_at = EXCLUDED.updated_at`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.TenantID,
		device.ResidentID,
		device.Token,
		string(device.Platform),
		device.CreatedAt,
		device.UpdatedAt,
	)
	return err
}

// Delete removes a token and returns the removed row, or nil when absent.
func (r *DeviceRepository) Delete(ctx context.Context, tenantID, token string) (*masterdata.PushDevice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE tenant_id = $1 AND token = $2
RETURNING id, tenant_id, resident_id, token, platform, created_at, updated_at`, r.table)
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, tenantID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return device, err
}

// ListByTenant lists all tokens of a tenant.
func (r *DeviceRepository) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.PushDevice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, resident_id, token, platform, created_at, updated_at
FROM %s
WHERE tenant_id = $1
ORDER BY created_at ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.PushDevice
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*masterdata.PushDevice, error) {
	var device masterdata.PushDevice
	var platform string
	if err := row.Scan(
		&device.ID,
		&device.TenantID,
		&device.ResidentID,
		&device.Token,
		&platform,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	device.Platform = masterdata.DevicePlatform(platform)
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
