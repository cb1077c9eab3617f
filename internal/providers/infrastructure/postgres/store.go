package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"building-cloud/internal/providers"
)

const defaultConfigTable = "provider_configs"

// DBTX is the subset of *sql.DB and *sql.Tx used by the store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists provider sections as JSONB rows keyed by tenant and provider.
type Store struct {
	db    DBTX
	table string
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithTable overrides the table name.
func WithTable(table string) StoreOption {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// NewStore constructs a provider config store.
func NewStore(db DBTX, opts ...StoreOption) *Store {
	s := &Store{db: db, table: defaultConfigTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads every section of a tenant and validates it.
func (s *Store) Load(ctx context.Context, tenantID string) (providers.TenantConfig, error) {
	if s == nil || s.db == nil {
		return providers.TenantConfig{}, errors.New("provider config store: nil db")
	}
	query := fmt.Sprintf(`
SELECT provider, config
FROM %s
WHERE tenant_id = $1`, s.table)
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return providers.TenantConfig{}, err
	}
	defer rows.Close()

	cfg := providers.TenantConfig{TenantID: tenantID}
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return providers.TenantConfig{}, err
		}
		provider, ok := providers.ParseProvider(name)
		if !ok {
			continue
		}
		section, err := providers.DecodeSection(provider, raw)
		if err != nil {
			if cfg.Invalid == nil {
				cfg.Invalid = make(map[providers.Provider]string)
			}
			cfg.Invalid[provider] = "malformed config"
			continue
		}
		cfg.Set(section)
	}
	if err := rows.Err(); err != nil {
		return providers.TenantConfig{}, err
	}
	return cfg, nil
}

// Save upserts one section.
func (s *Store) Save(ctx context.Context, tenantID string, section providers.Section) error {
	if s == nil || s.db == nil {
		return errors.New("provider config store: nil db")
	}
	if section == nil {
		return errors.New("provider config store: nil section")
	}
	payload, err := json.Marshal(section)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (tenant_id, provider, config, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, provider)
DO UPDATE SET
	config = EXCLUDED.config,
	updated_at = EXCLUDED.updated_at`, s.table)
	_, err = s.db.ExecContext(ctx, query, tenantID, string(section.Provider()), payload, time.Now().UTC())
	return err
}
