package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"building-cloud/internal/eventing"
)

const defaultClaimLease = 2 * time.Minute

var errNilDB = errors.New("eventing store: nil db")

// DBTX is the subset of *sql.DB and *sql.Tx the stores need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OutboxStore keeps published envelopes in event_outbox until a dispatcher
// delivers them. Records are claimed before delivery so that the eager
// dispatch on publish and the background ticker, possibly on several
// replicas, never hand the same record to the bus twice.
type OutboxStore struct {
	db    DBTX
	lease time.Duration
	now   func() time.Time
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithClaimLease sets how long a claimed record stays invisible to other
// dispatchers. A claim older than the lease is treated as abandoned.
func WithClaimLease(lease time.Duration) OutboxOption {
	return func(s *OutboxStore) {
		if lease > 0 {
			s.lease = lease
		}
	}
}

// WithOutboxClock overrides the store clock.
func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(s *OutboxStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewOutboxStore(db DBTX, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, lease: defaultClaimLease, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert appends the envelope and returns the outbox row id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO event_outbox (id, event_id, event_type, tenant_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)`,
		id, env.EventID, env.EventType, env.TenantID, payload, env.OccurredAt)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListPending claims up to limit deliverable records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
UPDATE event_outbox
SET status = 'dispatching', claimed_at = $1
WHERE id IN (
	SELECT id FROM event_outbox
	WHERE status = 'pending' OR (status = 'dispatching' AND claimed_at < $2)
	ORDER BY created_at
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, created_at`, now, now.Add(-s.lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record  eventing.OutboxRecord
		created time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			id      string
			payload []byte
			created time.Time
		)
		if err := rows.Scan(&id, &payload, &created); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		batch = append(batch, claimed{record: eventing.OutboxRecord{ID: id, Envelope: env}, created: created})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	for i := 1; i < len(batch); i++ {
		for j := i; j > 0 && batch[j].created.Before(batch[j-1].created); j-- {
			batch[j], batch[j-1] = batch[j-1], batch[j]
		}
	}
	out := make([]eventing.OutboxRecord, 0, len(batch))
	for _, c := range batch {
		out = append(out, c.record)
	}
	return out, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox SET status = 'sent', sent_at = $2, claimed_at = NULL
WHERE id = $1`, id, s.now())
	return err
}

// MarkFailed parks the record; its envelope has already gone to the dead
// letter store and is replayed from there.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox SET status = 'failed', attempts = attempts + 1, failed_at = $2, claimed_at = NULL
WHERE id = $1`, id, s.now())
	return err
}

// PendingCount reports records not yet delivered, including live claims.
func (s *OutboxStore) PendingCount(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_outbox WHERE status IN ('pending', 'dispatching')`).Scan(&n)
	return n, err
}
