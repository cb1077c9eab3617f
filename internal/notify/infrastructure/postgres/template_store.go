package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"building-cloud/internal/notify/template"
)

const defaultTemplatesTable = "notification_templates"

const templateColumns = `id, scope, tenant_id, name, subject, body_html, body_text, variables,
	description, is_active, created_at, updated_at`

// TemplateStore persists tenant overrides and shared custom templates.
// Shared templates are stored with an empty tenant_id so that
// (scope, tenant_id, name) stays a plain unique key.
type TemplateStore struct {
	db    DBTX
	table string
	now   func() time.Time
}

// TemplateStoreOption configures the store.
type TemplateStoreOption func(*TemplateStore)

// WithTemplatesTable overrides the default table name.
func WithTemplatesTable(table string) TemplateStoreOption {
	return func(s *TemplateStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewTemplateStore constructs a store.
func NewTemplateStore(db DBTX, opts ...TemplateStoreOption) *TemplateStore {
	s := &TemplateStore{db: db, table: defaultTemplatesTable, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TemplateStore) Find(ctx context.Context, scope template.Scope, tenantID, name string) (*template.Template, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("template store: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE scope = $1 AND tenant_id = $2 AND name = $3
LIMIT 1`, templateColumns, s.table)
	return scanTemplate(s.db.QueryRowContext(ctx, query, string(scope), tenantID, name))
}

// List returns the tenant's overrides and every shared template.
func (s *TemplateStore) List(ctx context.Context, tenantID string) ([]template.Template, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("template store: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE scope = $1 OR (scope = $2 AND tenant_id = $3)
ORDER BY name ASC, scope ASC`, templateColumns, s.table)
	rows, err := s.db.QueryContext(ctx, query, string(template.ScopeSharedCustom), string(template.ScopeTenantOverride), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []template.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		if tpl != nil {
			result = append(result, *tpl)
		}
	}
	return result, rows.Err()
}

// Save upserts by scope, tenant and name.
func (s *TemplateStore) Save(ctx context.Context, tpl *template.Template) error {
	if s == nil || s.db == nil {
		return errors.New("template store: nil db")
	}
	if tpl == nil {
		return errors.New("template store: nil template")
	}
	variables, err := json.Marshal(tpl.Variables)
	if err != nil {
		return err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, scope, tenant_id, name, subject, body_html, body_text, variables,
	description, is_active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11
)
ON CONFLICT (scope, tenant_id, name) DO UPDATE SET
	subject = EXCLUDED.subject,
	body_html = EXCLUDED.body_html,
	body_text = EXCLUDED.body_text,
	variables = EXCLUDED.variables,
	description = EXCLUDED.description,
	is_active = EXCLUDED.is_active,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`, s.table)
	row := s.db.QueryRowContext(ctx, query,
		tpl.ID, string(tpl.Scope), tpl.TenantID, tpl.Name, tpl.Subject, tpl.BodyRich, tpl.BodyPlain, variables,
		tpl.Description, tpl.Active, now,
	)
	if err := row.Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return err
	}
	tpl.CreatedAt = tpl.CreatedAt.UTC()
	tpl.UpdatedAt = tpl.UpdatedAt.UTC()
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, scope template.Scope, tenantID, name string) error {
	if s == nil || s.db == nil {
		return errors.New("template store: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = $1 AND tenant_id = $2 AND name = $3`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(scope), tenantID, name)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return template.ErrTemplateNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*template.Template, error) {
	var tpl template.Template
	var scope string
	var variables []byte
	var description sql.NullString
	err := row.Scan(
		&tpl.ID,
		&scope,
		&tpl.TenantID,
		&tpl.Name,
		&tpl.Subject,
		&tpl.BodyRich,
		&tpl.BodyPlain,
		&variables,
		&description,
		&tpl.Active,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	tpl.Scope = template.Scope(scope)
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &tpl.Variables); err != nil {
			return nil, fmt.Errorf("decode template variables: %w", err)
		}
	}
	if description.Valid {
		tpl.Description = description.String
	}
	tpl.CreatedAt = tpl.CreatedAt.UTC()
	tpl.UpdatedAt = tpl.UpdatedAt.UTC()
	return &tpl, nil
}
