package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Account metrics
	AccountsOpened       prometheus.Counter
	AccountOperations    *prometheus.CounterVec
	OperationErrors      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	ConcurrencyConflicts prometheus.Counter
	TransferAmount       prometheus.Histogram

	// Event store metrics
	EventsAppended *prometheus.CounterVec

	// Outbox metrics
	OutboxEnqueued     prometheus.Counter
	OutboxPublished    *prometheus.CounterVec
	OutboxRetried      *prometheus.CounterVec
	OutboxDeadLettered *prometheus.CounterVec
	OutboxBacklog      prometheus.Gauge
	DispatchDuration   prometheus.Histogram
	DispatchCycles     *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Account metrics
		AccountsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_accounts_opened_total",
			Help: "Total number of accounts opened",
		}),
		AccountOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_account_operations_total",
				Help: "Total successful account operations by type",
			},
			[]string{"operation"},
		),
		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_operation_errors_total",
				Help: "Total failed account operations by operation and error kind",
			},
			[]string{"operation", "error_type"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventledger_operation_duration_seconds",
				Help:    "Duration of load-apply-persist units of work",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ConcurrencyConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_concurrency_conflicts_total",
			Help: "Total optimistic concurrency conflicts on append",
		}),
		TransferAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventledger_transfer_amount",
			Help:    "Transfer amounts",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		}),

		// Event store metrics
		EventsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_events_appended_total",
				Help: "Total domain events appended by type",
			},
			[]string{"event_type"},
		),

		// Outbox metrics
		OutboxEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_outbox_enqueued_total",
			Help: "Total outbox records enqueued",
		}),
		OutboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_outbox_published_total",
				Help: "Total outbox records published by message type",
			},
			[]string{"message_type"},
		),
		OutboxRetried: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_outbox_retried_total",
				Help: "Total outbox records scheduled for retry by message type",
			},
			[]string{"message_type"},
		),
		OutboxDeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_outbox_dead_lettered_total",
				Help: "Total outbox records given up on, by reason",
			},
			[]string{"reason"},
		),
		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventledger_outbox_backlog",
			Help: "Unprocessed outbox records at the end of the last cycle",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventledger_dispatch_cycle_duration_seconds",
			Help:    "Duration of outbox dispatch cycles",
			Buckets: prometheus.DefBuckets,
		}),
		DispatchCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_dispatch_cycles_total",
				Help: "Total dispatch cycles by outcome",
			},
			[]string{"outcome"},
		),

		// Cache metrics
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_cache_lookups_total",
				Help: "Account view cache lookups by result",
			},
			[]string{"result"},
		),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}
