package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks lifecycle transitions and their side effects.
type Metrics struct {
	Transitions *prometheus.CounterVec
	SideEffects *prometheus.CounterVec
	QueueDepth  prometheus.Gauge
}

// NewMetrics registers lifecycle metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_lifecycle_transitions_total",
			Help: "Lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		SideEffects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_lifecycle_side_effects_total",
			Help: "Post-transition side effects by kind and outcome",
		}, []string{"kind", "outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "kycops_lifecycle_queue_depth",
			Help: "Side effects waiting in the queue",
		}),
	}
}

func (m *Metrics) observeTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeSideEffect(kind, outcome string) {
	if m == nil {
		return
	}
	m.SideEffects.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
