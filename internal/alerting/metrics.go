package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks alert deliveries.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	Dispatched       *prometheus.CounterVec
}

// NewMetrics registers alerting metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_alert_deliveries_total",
			Help: "Alert deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycops_alert_delivery_duration_seconds",
			Help:    "Time spent delivering one alert to one channel",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		Dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_alerts_dispatched_total",
			Help: "Alerts dispatched by level",
		}, []string{"level"}),
	}
}

func (m *Metrics) observeDelivery(channel string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Deliveries.WithLabelValues(channel, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) incDispatched(level Level) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(string(level)).Inc()
}
