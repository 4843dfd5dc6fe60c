package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ForecastPool.
type Metrics struct {
	// --- Settlement engine ---
	EngineOpsApplied  *prometheus.CounterVec
	EngineOpsRejected *prometheus.CounterVec
	EngineOpDuration  *prometheus.HistogramVec
	EngineSequence    prometheus.Gauge
	MarketsCreated    prometheus.Counter
	MarketsConcluded  *prometheus.CounterVec
	CommitmentsTotal  prometheus.Counter
	CommittedAmount   prometheus.Counter
	ClaimsTotal       *prometheus.CounterVec
	ClaimedAmount     *prometheus.CounterVec

	// --- Dispute oracle ---
	OracleTransitions *prometheus.CounterVec
	OracleBondsPosted prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	PublishDrops    prometheus.Counter
	PublishedTotal  prometheus.Counter
	PublishErrors   prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EngineOpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_engine_ops_applied_total",
			Help: "Mutating operations applied, by operation.",
		}, []string{"op"}),
		EngineOpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_engine_ops_rejected_total",
			Help: "Mutating operations rejected, by operation and reason group.",
		}, []string{"op", "reason"}),
		EngineOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecast_engine_op_duration_seconds",
			Help:    "Wall time per engine operation.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"op"}),
		EngineSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecast_engine_sequence",
			Help: "Current global event sequence.",
		}),
		MarketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_markets_created_total",
			Help: "Markets created.",
		}),
		MarketsConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_markets_concluded_total",
			Help: "Markets reaching a terminal tag, by terminal kind.",
		}, []string{"kind"}),
		CommitmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_commitments_total",
			Help: "Commitments accepted.",
		}),
		CommittedAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_committed_amount_total",
			Help: "Total committed amount in asset base units.",
		}),
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_claims_total",
			Help: "Claim calls by kind (refund, payout).",
		}, []string{"kind"}),
		ClaimedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_claimed_amount_total",
			Help: "Amount paid out by kind (refund, principal, profit).",
		}, []string{"kind"}),

		OracleTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_oracle_transitions_total",
			Help: "Resolution state transitions, by transition.",
		}, []string{"transition"}),
		OracleBondsPosted: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_oracle_bonds_posted_total",
			Help: "Challenge bonds posted.",
		}),

		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecast_channel_size",
			Help: "Current queue depth per output channel.",
		}, []string{"channel"}),
		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecast_channel_capacity",
			Help: "Capacity per output channel.",
		}, []string{"channel"}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_publish_drops_total",
			Help: "Envelopes dropped on the non-blocking publish channel.",
		}),
		PublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_published_total",
			Help: "Envelopes successfully published to NATS.",
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_publish_errors_total",
			Help: "Failed NATS publish attempts.",
		}),

		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_persist_events_written_total",
			Help: "Event rows written to the event log.",
		}),
		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_persist_batch_duration_seconds",
			Help:    "Duration of event-log batch flushes.",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_persist_batch_size",
			Help:    "Events per flushed batch.",
			Buckets: prometheus.LinearBuckets(1, 10, 10),
		}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_persist_errors_total",
			Help: "Persistence errors by stage.",
		}, []string{"stage"}),
		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecast_persist_last_sequence",
			Help: "Highest sequence confirmed written.",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_query_requests_total",
			Help: "Query API requests by route and status.",
		}, []string{"route", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecast_query_duration_seconds",
			Help:    "Query API latency by route.",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"route"}),
	}
}
