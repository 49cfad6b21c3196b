package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement core.
type Metrics struct {
	// --- Settlement ---
	DecreasesSettled  *prometheus.CounterVec
	DecreasesRejected *prometheus.CounterVec
	DecreaseDuration  *prometheus.HistogramVec
	Liquidations      *prometheus.CounterVec

	// --- Swaps ---
	SwapsExecuted *prometheus.CounterVec
	SwapsRejected *prometheus.CounterVec
	SwapDuration  prometheus.Histogram
	SwapHops      prometheus.Histogram

	// --- Pool state ---
	ReserveViolations  *prometheus.CounterVec
	PoolUnderflows     *prometheus.CounterVec
	FeeReceiverCredits *prometheus.CounterVec

	// --- Event emission ---
	EventsEmitted *prometheus.CounterVec
	EventSequence prometheus.Gauge

	// --- Persistence ---
	PersistWrites  *prometheus.CounterVec
	PersistErrors  *prometheus.CounterVec
	PersistLatency prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		DecreasesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_position_decreases_settled_total",
			Help: "Position decreases settled successfully",
		}, []string{"market", "kind"}),

		DecreasesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_position_decreases_rejected_total",
			Help: "Position decreases rejected by kind of failure",
		}, []string{"market", "reason"}),

		DecreaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gmx_position_decrease_duration_seconds",
			Help:    "Time to settle one decrease",
			Buckets: latencyBuckets,
		}, []string{"market"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_liquidations_total",
			Help: "Liquidations settled by outcome",
		}, []string{"market", "outcome"}),

		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_swaps_executed_total",
			Help: "Swaps completed successfully",
		}, []string{"token_in", "token_out"}),

		SwapsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_swaps_rejected_total",
			Help: "Swaps rejected by kind of failure",
		}, []string{"reason"}),

		SwapDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmx_swap_duration_seconds",
			Help:    "Time to run a full swap path",
			Buckets: latencyBuckets,
		}),

		SwapHops: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmx_swap_hops",
			Help:    "Hops per swap path",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		ReserveViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_reserve_violations_total",
			Help: "Calls aborted by the reserve gate",
		}, []string{"market"}),

		PoolUnderflows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_pool_underflows_total",
			Help: "Calls aborted by pool balance underflow",
		}, []string{"market"}),

		FeeReceiverCredits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_fee_receiver_credits_total",
			Help: "Fee receiver credit operations",
		}, []string{"market", "source"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_events_emitted_total",
			Help: "Events handed to the sink",
		}, []string{"event_type"}),

		EventSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmx_event_sequence",
			Help: "Last assigned event sequence",
		}),

		PersistWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_persist_writes_total",
			Help: "Rows written to Postgres",
		}, []string{"table"}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmx_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmx_persist_latency_seconds",
			Help:    "Postgres write latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}
