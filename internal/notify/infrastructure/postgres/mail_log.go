package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	notify "building-cloud/internal/notify/domain"
)

const (
	defaultMailLogsTable = "mail_logs"
	defaultMailLogLimit  = 100
)

// MailLogRepository stores email attempts.
type MailLogRepository struct {
	db    DBTX
	table string
}

// NewMailLogRepository constructs a repository.
func NewMailLogRepository(db DBTX) *MailLogRepository {
	return &MailLogRepository{db: db, table: defaultMailLogsTable}
}

func (r *MailLogRepository) Append(ctx context.Context, entry notify.MailLogEntry) error {
	if r == nil || r.db == nil {
		return errors.New("mail log repo: nil db")
	}
	recipients, err := json.Marshal(entry.Recipients)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, tenant_id, recipients, subject, template_name, status, error, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8)`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, recipients, entry.Subject, entry.TemplateName, string(entry.Status), entry.Error, entry.CreatedAt,
	)
	return err
}

// List returns the newest entries first.
func (r *MailLogRepository) List(ctx context.Context, tenantID string, limit int) ([]notify.MailLogEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mail log repo: nil db")
	}
	if limit <= 0 {
		limit = defaultMailLogLimit
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, recipients, subject, template_name, status, error, created_at
FROM %s
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.MailLogEntry
	for rows.Next() {
		var entry notify.MailLogEntry
		var recipients []byte
		var templateName, status, errText sql.NullString
		if err := rows.Scan(&entry.ID, &entry.TenantID, &recipients, &entry.Subject, &templateName, &status, &errText, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(recipients) > 0 {
			if err := json.Unmarshal(recipients, &entry.Recipients); err != nil {
				return nil, fmt.Errorf("decode mail recipients: %w", err)
			}
		}
		entry.TemplateName = templateName.String
		entry.Status = notify.MailStatus(status.String)
		entry.Error = errText.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}
