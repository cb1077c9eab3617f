package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	notify "building-cloud/internal/notify/domain"
)

const defaultDeliveriesTable = "notification_deliveries"

// DeliveryLedger remembers definition-bound deliveries per channel and recipient.
type DeliveryLedger struct {
	db    DBTX
	table string
}

// NewDeliveryLedger constructs a ledger.
func NewDeliveryLedger(db DBTX) *DeliveryLedger {
	return &DeliveryLedger{db: db, table: defaultDeliveriesTable}
}

func (l *DeliveryLedger) Delivered(ctx context.Context, key notify.DeliveryKey) (map[string]struct{}, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("delivery ledger: nil db")
	}
	query := fmt.Sprintf(`
SELECT recipient_id
FROM %s
WHERE tenant_id = $1 AND definition_id = $2 AND channel = $3`, l.table)
	rows, err := l.db.QueryContext(ctx, query, key.TenantID, key.DefinitionID, string(key.Channel))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Record inserts one row per recipient; repeats keep the first delivery time.
func (l *DeliveryLedger) Record(ctx context.Context, key notify.DeliveryKey, recipientIDs []string, at time.Time) error {
	if l == nil || l.db == nil {
		return errors.New("delivery ledger: nil db")
	}
	if len(recipientIDs) == 0 {
		return nil
	}
	values := make([]string, 0, len(recipientIDs))
	args := []any{key.TenantID, key.DefinitionID, string(key.Channel), at.UTC()}
	for _, id := range recipientIDs {
		args = append(args, id)
		values = append(values, fmt.Sprintf("($1, $2, $3, $%d, $4)", len(args)))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (tenant_id, definition_id, channel, recipient_id, delivered_at)
VALUES %s
ON CONFLICT (tenant_id, definition_id, channel, recipient_id) DO NOTHING`, l.table, strings.Join(values, ", "))
	_, err := l.db.ExecContext(ctx, query, args...)
	return err
}
