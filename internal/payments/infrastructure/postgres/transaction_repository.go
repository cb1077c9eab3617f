package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	payments "building-cloud/internal/payments/domain"
)

const (
	defaultTransactionsTable = "payment_transactions"
	defaultHistoryTable      = "payment_status_history"
)

const transactionColumns = `id, tenant_id, order_id, session_token, amount, currency, customer, status,
	environment, due_id, refunded_amount, provider_response, created_at, updated_at, refunded_at`

// TransactionRepository is a Postgres implementation for payment transactions.
type TransactionRepository struct {
	db           DBTX
	table        string
	historyTable string
}

// TransactionOption configures the repository.
type TransactionOption func(*TransactionRepository)

// WithTransactionTables overrides the transaction and history table names.
func WithTransactionTables(table, history string) TransactionOption {
	return func(repo *TransactionRepository) {
		if table != "" {
			repo.table = table
		}
		if history != "" {
			repo.historyTable = history
		}
	}
}

// NewTransactionRepository constructs a repository.
func NewTransactionRepository(db DBTX, opts ...TransactionOption) *TransactionRepository {
	repo := &TransactionRepository{db: db, table: defaultTransactionsTable, historyTable: defaultHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts a pending transaction and its opening history row.
func (r *TransactionRepository) Create(ctx context.Context, tx *payments.Transaction) error {
	if r == nil || r.db == nil {
		return errors.New("transaction repo: nil db")
	}
	if tx == nil {
		return errors.New("transaction repo: nil transaction")
	}
	customer, err := json.Marshal(tx.Customer)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, order_id, session_token, amount, currency, customer, status,
	environment, due_id, refunded_amount, provider_response, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14
)`, r.table)
	return withTx(ctx, r.db, func(db DBTX) error {
		_, err := db.ExecContext(ctx, query,
			tx.ID,
			tx.TenantID,
			tx.OrderID,
			tx.SessionToken,
			tx.Amount,
			tx.Currency,
			customer,
			string(tx.Status),
			string(tx.Environment),
			tx.DueID,
			tx.RefundedAmount,
			nullJSON(tx.ProviderResponse),
			tx.CreatedAt.UTC(),
			tx.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return payments.ErrDuplicateOrder
			}
			return err
		}
		return r.appendHistory(ctx, db, tx.TenantID, payments.StatusChange{
			TransactionID: tx.ID,
			To:            tx.Status,
			Reason:        "session created",
			OccurredAt:    tx.CreatedAt,
		})
	})
}

// FindByOrderID returns the tenant's transaction for orderID or nil.
func (r *TransactionRepository) FindByOrderID(ctx context.Context, tenantID, orderID string) (*payments.Transaction, error) {
	return r.findOne(ctx, "order_id", tenantID, orderID)
}

// FindBySessionToken returns the tenant's transaction for token or nil.
func (r *TransactionRepository) FindBySessionToken(ctx context.Context, tenantID, token string) (*payments.Transaction, error) {
	return r.findOne(ctx, "session_token", tenantID, token)
}

func (r *TransactionRepository) findOne(ctx context.Context, column, tenantID, value string) (*payments.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("transaction repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND %s = $2`, transactionColumns, r.table, column)
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, tenantID, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Save updates the mutable columns and appends change to the history.
func (r *TransactionRepository) Save(ctx context.Context, tx *payments.Transaction, change *payments.StatusChange) error {
	if r == nil || r.db == nil {
		return errors.New("transaction repo: nil db")
	}
	if tx == nil {
		return errors.New("transaction repo: nil transaction")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $3,
	refunded_amount = $4,
	provider_response = $5,
	updated_at = $6,
	refunded_at = $7
WHERE tenant_id = $1 AND id = $2`, r.table)
	return withTx(ctx, r.db, func(db DBTX) error {
		res, err := db.ExecContext(ctx, query,
			tx.TenantID,
			tx.ID,
			string(tx.Status),
			tx.RefundedAmount,
			nullJSON(tx.ProviderResponse),
			tx.UpdatedAt.UTC(),
			nullTime(tx.RefundedAt),
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return payments.ErrNotFound
		}
		if change == nil {
			return nil
		}
		return r.appendHistory(ctx, db, tx.TenantID, *change)
	})
}

// List returns a tenant's transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, tenantID string, filter payments.ListFilter) ([]payments.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("transaction repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1
	AND ($2 = '' OR status = $2)
	AND ($3 = '' OR due_id = $3)
ORDER BY created_at DESC
LIMIT $4`, transactionColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, tenantID, string(filter.Status), filter.DueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payments.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// History returns the status changes of a transaction, oldest first.
func (r *TransactionRepository) History(ctx context.Context, tenantID, transactionID string) ([]payments.StatusChange, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("transaction repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT transaction_id, COALESCE(from_status, ''), to_status, COALESCE(reason, ''), occurred_at
FROM %s
WHERE tenant_id = $1 AND transaction_id = $2
ORDER BY occurred_at ASC, id ASC`, r.historyTable)
	rows, err := r.db.QueryContext(ctx, query, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payments.StatusChange
	for rows.Next() {
		var change payments.StatusChange
		var from, to string
		if err := rows.Scan(&change.TransactionID, &from, &to, &change.Reason, &change.OccurredAt); err != nil {
			return nil, err
		}
		change.From = payments.Status(from)
		change.To = payments.Status(to)
		change.OccurredAt = change.OccurredAt.UTC()
		out = append(out, change)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) appendHistory(ctx context.Context, db DBTX, tenantID string, change payments.StatusChange) error {
	query := fmt.Sprintf(`
INSERT INTO %s (tenant_id, transaction_id, from_status, to_status, reason, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`, r.historyTable)
	_, err := db.ExecContext(ctx, query,
		tenantID,
		change.TransactionID,
		string(change.From),
		string(change.To),
		change.Reason,
		change.OccurredAt.UTC(),
	)
	return err
}

func scanTransaction(row rowScanner) (*payments.Transaction, error) {
	var (
		tx           payments.Transaction
		status, env  string
		dueID        sql.NullString
		customer     []byte
		providerResp []byte
		refundedAt   sql.NullTime
	)
	if err := row.Scan(
		&tx.ID,
		&tx.TenantID,
		&tx.OrderID,
		&tx.SessionToken,
		&tx.Amount,
		&tx.Currency,
		&customer,
		&status,
		&env,
		&dueID,
		&tx.RefundedAmount,
		&providerResp,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&refundedAt,
	); err != nil {
		return nil, err
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &tx.Customer); err != nil {
			return nil, err
		}
	}
	if len(providerResp) > 0 {
		tx.ProviderResponse = json.RawMessage(providerResp)
	}
	tx.Status = payments.Status(status)
	tx.Environment = payments.Environment(env)
	tx.DueID = dueID.String
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		tx.RefundedAt = &at
	}
	return &tx, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
