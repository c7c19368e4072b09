package escalate

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the escalation subsystem.
type Metrics struct {
	DispatchesTotal   *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	PermanentFailures prometheus.Counter
	Pending           prometheus.Gauge
}

// NewMetrics registers and returns escalation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_escalation_dispatches_total",
			Help: "Escalation dispatch attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchtower_escalation_dispatch_duration_seconds",
			Help:    "Duration of channel adapter calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		PermanentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_escalation_permanent_failures_total",
			Help: "Escalation attempts abandoned after the retry bound.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchtower_escalation_pending",
			Help: "Escalation levels currently queued.",
		}),
	}
	reg.MustRegister(m.DispatchesTotal, m.DispatchDuration, m.PermanentFailures, m.Pending)
	return m
}
