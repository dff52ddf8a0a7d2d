package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Command routing
	CommandsDispatched *prometheus.CounterVec
	CommandsForwarded  prometheus.Counter
	RoutingErrors      prometheus.Counter

	// Event log
	EventsAppended   prometheus.Counter
	VersionConflicts prometheus.Counter

	// Aggregate instances
	AggregatesLive       prometheus.Gauge
	AggregatesRehydrated prometheus.Counter
	AggregatesEvicted    prometheus.Counter

	// Transfer saga
	SagasActive        prometheus.Gauge
	SagasCompleted     prometheus.Counter
	SagaCommandsIssued prometheus.Counter
	SagaPoisonRecords  prometheus.Counter
	TransfersStuck     prometheus.Gauge

	// Revenue projection
	ProjectionFeeEvents prometheus.Counter
	ProjectionFailovers prometheus.Counter

	// API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates and registers all metrics on the given registerer. Tests
// pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardbank_commands_dispatched_total",
				Help: "Total commands dispatched by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		CommandsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_commands_forwarded_total",
			Help: "Total commands proxied to the owning node",
		}),
		RoutingErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_routing_errors_total",
			Help: "Total dispatches that failed because the owning node was unreachable",
		}),

		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_events_appended_total",
			Help: "Total events appended to the event log",
		}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_version_conflicts_total",
			Help: "Total optimistic appends rejected by the expected-version check",
		}),

		AggregatesLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shardbank_aggregates_live",
			Help: "Live aggregate instances on this node",
		}),
		AggregatesRehydrated: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_aggregates_rehydrated_total",
			Help: "Total aggregate instances rebuilt from the event log",
		}),
		AggregatesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_aggregates_evicted_total",
			Help: "Total idle aggregate instances evicted",
		}),

		SagasActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shardbank_sagas_active",
			Help: "Transfer sagas currently awaiting completion",
		}),
		SagasCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_sagas_completed_total",
			Help: "Total transfer sagas completed",
		}),
		SagaCommandsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_saga_commands_issued_total",
			Help: "Total follow-up commands issued by the transfer saga",
		}),
		SagaPoisonRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_saga_poison_records_total",
			Help: "Total stream records the transfer saga skipped because their payload would not decode",
		}),
		TransfersStuck: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shardbank_transfers_stuck",
			Help: "Transfers parked awaiting an undeliverable credit leg",
		}),

		ProjectionFeeEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_projection_fee_events_total",
			Help: "Total fee events folded into the revenue projection",
		}),
		ProjectionFailovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "shardbank_projection_failovers_total",
			Help: "Total times this node was promoted to revenue projection leader",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardbank_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardbank_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}
