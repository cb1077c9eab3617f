package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"building-cloud/internal/observability/logging"
)

const gaugeQueryTimeout = 2 * time.Second

var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{"event_outbox_pending", "Outbox records not yet delivered", "SELECT COUNT(*) FROM event_outbox WHERE status IN ('pending', 'dispatching')"},
	{"event_dlq_count", "Dead letter records awaiting replay", "SELECT COUNT(*) FROM dead_letter_events"},
	{"payment_transactions_pending", "Payment transactions awaiting reconciliation", "SELECT COUNT(*) FROM payment_transactions WHERE status = 'pending'"},
	{"apartment_dues_overdue", "Apartment dues past their due date", "SELECT COUNT(*) FROM apartment_dues WHERE status = 'overdue'"},
	{"due_definitions_unsent", "Due definitions not yet dispatched", "SELECT COUNT(*) FROM due_definitions WHERE NOT is_sent"},
}

func registerDBMetrics(db *sql.DB, logger logging.Logger) {
	for _, g := range dbGauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

func queryCount(db *sql.DB, logger logging.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), gaugeQueryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("query", query).Warn("metrics query failed")
		}
		return 0
	}
	return float64(max(count, 0))
}
