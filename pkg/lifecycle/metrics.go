package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "shm"
	lifecycleSubsystem = "lifecycle"
)

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	// TransitionsTotal counts committed stage changes.
	// Labels: from, to
	TransitionsTotal *prometheus.CounterVec

	// DenialsTotal counts operations rejected by RBAC.
	// Labels: action
	DenialsTotal *prometheus.CounterVec

	// GateBlocksTotal counts gated promotions refused, once per failing gate.
	// Labels: gate
	GateBlocksTotal *prometheus.CounterVec

	// AutoSignOffTotal counts promotions whose checklist fully passed.
	AutoSignOffTotal prometheus.Counter

	// OperationDuration measures engine operations end to end.
	// Labels: op, result (ok, error)
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "transitions_total",
			Help:      "Committed patch stage transitions",
		}, []string{"from", "to"}),

		DenialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "denials_total",
			Help:      "Operations denied by role-based authorization",
		}, []string{"action"}),

		GateBlocksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "gate_blocks_total",
			Help:      "Gated promotions refused, by failing gate",
		}, []string{"gate"}),

		AutoSignOffTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "auto_signoff_total",
			Help:      "Promotions that qualified for automated sign-off",
		}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op", "result"}),
	}
}
