package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement core.
type Metrics struct {
	// --- Settlement operations ---
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StateConflicts    *prometheus.CounterVec
	ReplayHits        *prometheus.CounterVec

	// --- Ledger & registry ---
	LedgerTransferDuration prometheus.Histogram
	LedgerTransferErrors   *prometheus.CounterVec
	RegistryCASDuration    prometheus.Histogram
	RegistryCASConflicts   prometheus.Counter

	// --- Reconciliation ---
	ReconcileRepairs prometheus.Counter
	ReconcileHalts   prometheus.Counter
	ExpiredEscrows   prometheus.Counter

	// --- Outbound feed ---
	TransitionsPublished *prometheus.CounterVec
	PublishDrops         prometheus.Counter
	PublishErrors        prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Settlement operations by outcome",
		}, []string{"op", "result"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_operation_duration_seconds",
			Help:    "End-to-end settlement operation latency",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		StateConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_state_conflicts_total",
			Help: "Transitions rejected because a concurrent transition won",
		}, []string{"op"}),

		ReplayHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_replay_hits_total",
			Help: "Retries of completed transitions answered as no-op success",
		}, []string{"op"}),

		LedgerTransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_ledger_transfer_duration_seconds",
			Help:    "Ledger transfer latency",
			Buckets: latencyBuckets,
		}),

		LedgerTransferErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_transfer_errors_total",
			Help: "Ledger transfer failures",
		}, []string{"reason"}),

		RegistryCASDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_registry_cas_duration_seconds",
			Help:    "Registry compare-and-swap latency",
			Buckets: latencyBuckets,
		}),

		RegistryCASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_registry_cas_conflicts_total",
			Help: "Registry CAS failures (expected status mismatch)",
		}),

		ReconcileRepairs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_reconcile_repairs_total",
			Help: "Records repaired after a committed transfer with a lost registry write",
		}),

		ReconcileHalts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_reconcile_halts_total",
			Help: "Escrows halted because ledger and registry disagree irreparably",
		}),

		ExpiredEscrows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_expired_total",
			Help: "PendingFunding escrows lapsed to Failed",
		}),

		TransitionsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_transitions_published_total",
			Help: "Transition events published to the outbound feed",
		}, []string{"event"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_drops_total",
			Help: "Transition events dropped due to full feed channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_errors_total",
			Help: "Outbound publish failures",
		}),
	}
}
