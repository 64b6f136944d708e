package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine exposes.
// Construct exactly once per process; promauto registers on the
// default registry and panics on duplicates.
type Metrics struct {
	// Engine pipeline
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationsRejected *prometheus.CounterVec
	LiquidationDuration  *prometheus.HistogramVec
	RepaidTotal          *prometheus.CounterVec
	SeizedTotal          *prometheus.CounterVec
	FeesTotal            *prometheus.CounterVec
	PriceUpdatesApplied  prometheus.Counter

	// Persistence worker
	ResultsPersisted    prometheus.Counter
	PersistErrors       *prometheus.CounterVec
	PersistBatchSeconds prometheus.Histogram

	// Event publishing
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter

	// HTTP surface
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_liquidations_executed_total",
			Help: "Committed liquidations by mode and ledger.",
		}, []string{"mode", "ledger"}),
		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_liquidations_rejected_total",
			Help: "Rejected liquidation calls by mode and reason.",
		}, []string{"mode", "reason"}),
		LiquidationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_liquidation_duration_seconds",
			Help:    "End-to-end liquidation call latency, including rollback paths.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"mode"}),
		RepaidTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_debt_repaid_units_total",
			Help: "Debt units repaid through liquidation, per ledger.",
		}, []string{"ledger"}),
		SeizedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_collateral_seized_units_total",
			Help: "Collateral units seized, per ledger and asset.",
		}, []string{"ledger", "asset"}),
		FeesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_fees_collected_units_total",
			Help: "Liquidation fees collected in debt units, per ledger.",
		}, []string{"ledger"}),
		PriceUpdatesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_price_updates_applied_total",
			Help: "Oracle price updates applied ahead of liquidation calls.",
		}),
		ResultsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_results_persisted_total",
			Help: "Liquidation results written to the history table.",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_persist_errors_total",
			Help: "History write failures by error type.",
		}, []string{"error_type"}),
		PersistBatchSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_persist_batch_seconds",
			Help:    "Latency of history batch writes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_events_published_total",
			Help: "Liquidation events published to JetStream.",
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_publish_drops_total",
			Help: "Events dropped because the publish buffer was full.",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_http_requests_total",
			Help: "HTTP API requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_http_request_duration_seconds",
			Help:    "HTTP API request latency by endpoint.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"endpoint"}),
	}
}
