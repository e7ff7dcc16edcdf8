package outcomes

import "github.com/prometheus/client_golang/prometheus"

var (
	measureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcomes_measure_total",
			Help: "Measure calls by schema version and result.",
		},
		[]string{"version", "status"},
	)
	pendingEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outcomes_pending",
			Help: "Outcome events waiting for acknowledgement.",
		},
	)
	reportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcomes_reported_total",
			Help: "Outcomes reported by the host app, by kind and status.",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(measureTotal, pendingEvents, reportedTotal)
}
