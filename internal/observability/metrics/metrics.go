package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"building-cloud/internal/observability/logging"
)

const (
	metricPrefix = "platform_"

	resultSuccess = "success"
	resultError   = "error"

	fanoutResultSent    = "sent"
	fanoutResultFailed  = "failed"
	fanoutResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	consumerLag *prometheus.GaugeVec

	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxEventsTotal     *prometheus.CounterVec

	fanoutRecipientsTotal *prometheus.CounterVec
	fanoutLatency         *prometheus.HistogramVec

	providerCallsTotal  *prometheus.CounterVec
	providerCallLatency *prometheus.HistogramVec

	paymentTransitionsTotal *prometheus.CounterVec

	configCacheTotal *prometheus.CounterVec

	dueDefinitionOpsTotal *prometheus.CounterVec
	overdueMarkedTotal    prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger logging.Logger) {
	registerOnce.Do(func() {
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_events_total",
				Help: "Outbox events by outcome",
			},
			[]string{"outcome"},
		)

		fanoutRecipientsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_recipients_total",
				Help: "Fan-out recipients by channel and outcome",
			},
			[]string{"channel", "result"},
		)
		fanoutLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fanout_latency_seconds",
				Help:    "Fan-out dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)

		providerCallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_calls_total",
				Help: "Outbound provider calls by provider and result",
			},
			[]string{"provider", "result"},
		)
		providerCallLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "provider_call_latency_seconds",
				Help:    "Outbound provider call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "result"},
		)

		paymentTransitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_transitions_total",
				Help: "Payment transaction transitions by target status",
			},
			[]string{"status"},
		)

		configCacheTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_config_cache_total",
				Help: "Provider configuration cache lookups by result",
			},
			[]string{"result"},
		)

		dueDefinitionOpsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "due_definition_ops_total",
				Help: "Due definition operations by op and result",
			},
			[]string{"op", "result"},
		)
		overdueMarkedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "apartment_dues_overdue_total",
				Help: "Apartment dues moved to overdue by the sweep",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "due_export_total",
				Help: "Total due definition exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "due_export_latency_seconds",
				Help:    "Due definition export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			consumerLag,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxEventsTotal,
			fanoutRecipientsTotal,
			fanoutLatency,
			providerCallsTotal,
			providerCallLatency,
			paymentTransitionsTotal,
			configCacheTotal,
			dueDefinitionOpsTotal,
			overdueMarkedTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveOutboxDispatch records one dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxEventsTotal != nil {
		outboxEventsTotal.WithLabelValues("sent").Add(float64(sent))
		outboxEventsTotal.WithLabelValues("failed").Add(float64(failed))
		outboxEventsTotal.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveFanout records recipient outcomes and latency for one dispatch.
func ObserveFanout(channel string, sent, failed, skipped int, duration time.Duration) {
	if channel == "" {
		channel = "unknown"
	}
	if fanoutRecipientsTotal != nil {
		fanoutRecipientsTotal.WithLabelValues(channel, fanoutResultSent).Add(float64(sent))
		fanoutRecipientsTotal.WithLabelValues(channel, fanoutResultFailed).Add(float64(failed))
		fanoutRecipientsTotal.WithLabelValues(channel, fanoutResultSkipped).Add(float64(skipped))
	}
	if fanoutLatency != nil {
		fanoutLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// ObserveProviderCall records one outbound provider call.
func ObserveProviderCall(provider, result string, duration time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if providerCallsTotal != nil {
		providerCallsTotal.WithLabelValues(provider, result).Inc()
	}
	if providerCallLatency != nil {
		providerCallLatency.WithLabelValues(provider, result).Observe(duration.Seconds())
	}
}

// IncPaymentTransition counts a payment moving into status.
func IncPaymentTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if paymentTransitionsTotal != nil {
		paymentTransitionsTotal.WithLabelValues(status).Inc()
	}
}

// IncConfigCache counts a provider config cache hit or miss.
func IncConfigCache(result string) {
	if configCacheTotal != nil {
		configCacheTotal.WithLabelValues(result).Inc()
	}
}

// IncDueDefinitionOp counts a due definition operation.
func IncDueDefinitionOp(op, result string) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if dueDefinitionOpsTotal != nil {
		dueDefinitionOpsTotal.WithLabelValues(op, result).Inc()
	}
}

// AddOverdueMarked increments the overdue counter by count.
func AddOverdueMarked(count int) {
	if count <= 0 {
		return
	}
	if overdueMarkedTotal != nil {
		overdueMarkedTotal.Add(float64(count))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CacheHit  = "hit"
	CacheMiss = "miss"
)
