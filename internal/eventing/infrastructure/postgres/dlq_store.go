package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"building-cloud/internal/eventing"
)

// DeadLetter is one event that could not be delivered.
type DeadLetter struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	TenantID    string    `json:"tenant_id"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// DLQStore keeps undeliverable events with their last error. A dead letter
// stays until an admin replays it.
type DLQStore struct {
	db  DBTX
	now func() time.Time
}

func NewDLQStore(db DBTX) *DLQStore {
	return &DLQStore{db: db, now: time.Now}
}

// RecordFailure inserts a DLQ record or bumps its attempt count.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events (event_id, event_type, tenant_id, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = dead_letter_events.attempts + 1`, env.EventID, env.EventType, env.TenantID, payload, message, s.now().UTC())
	return err
}

// List returns the most recently failed events of a tenant.
func (s *DLQStore) List(ctx context.Context, tenantID string, limit int) ([]DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event_type, tenant_id, error, attempts, first_seen_at, last_seen_at
FROM dead_letter_events
WHERE tenant_id = $1
ORDER BY last_seen_at DESC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var item DeadLetter
		if err := rows.Scan(&item.EventID, &item.EventType, &item.TenantID, &item.Error, &item.Attempts, &item.FirstSeenAt, &item.LastSeenAt); err != nil {
			return nil, err
		}
		item.FirstSeenAt = item.FirstSeenAt.UTC()
		item.LastSeenAt = item.LastSeenAt.UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}

// Take removes a tenant's dead letter and returns its envelope.
func (s *DLQStore) Take(ctx context.Context, tenantID, eventID string) (eventing.Envelope, error) {
	if s == nil || s.db == nil {
		return eventing.Envelope{}, errNilDB
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
DELETE FROM dead_letter_events
WHERE tenant_id = $1 AND event_id = $2
RETURNING payload`, tenantID, eventID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return eventing.Envelope{}, fmt.Errorf("dead letter %s: %w", eventID, eventing.ErrNotFound)
	}
	if err != nil {
		return eventing.Envelope{}, err
	}
	var env eventing.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return eventing.Envelope{}, err
	}
	return env, nil
}

// Replayer moves dead letters back onto the outbox.
type Replayer struct {
	db *sql.DB
}

func NewReplayer(db *sql.DB) *Replayer {
	return &Replayer{db: db}
}

// Replay requeues the envelope under its original event id, so consumers
// that already handled it skip it through the processed store.
func (r *Replayer) Replay(ctx context.Context, tenantID, eventID string) (eventing.Envelope, error) {
	if r == nil || r.db == nil {
		return eventing.Envelope{}, errNilDB
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eventing.Envelope{}, err
	}
	defer func() { _ = tx.Rollback() }()

	env, err := NewDLQStore(tx).Take(ctx, tenantID, eventID)
	if err != nil {
		return eventing.Envelope{}, err
	}
	if _, err := NewOutboxStore(tx).Insert(ctx, env); err != nil {
		return eventing.Envelope{}, err
	}
	if err := tx.Commit(); err != nil {
		return eventing.Envelope{}, err
	}
	return env, nil
}
