package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for evaluation passes.
type Metrics struct {
	PassesTotal   *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	EventsTouched prometheus.Counter
	AlertsFired   prometheus.Counter
	RuleErrors    prometheus.Counter
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_passes_total",
			Help: "Correlation and evaluation passes by outcome.",
		}, []string{"outcome"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchtower_pass_duration_seconds",
			Help:    "Duration of full evaluation passes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}),
		EventsTouched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_events_touched_total",
			Help: "Events created or updated by correlation passes.",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_alerts_fired_total",
			Help: "New alerts created by rule evaluation.",
		}),
		RuleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_rule_errors_total",
			Help: "Rule evaluations that failed and were skipped.",
		}),
	}
	reg.MustRegister(m.PassesTotal, m.PassDuration, m.EventsTouched, m.AlertsFired, m.RuleErrors)
	return m
}
