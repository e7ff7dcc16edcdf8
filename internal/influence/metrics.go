package influence

import "github.com/prometheus/client_golang/prometheus"

var (
	receivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influence_received_total",
			Help: "Messages recorded in a received ledger.",
		},
		[]string{"channel"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influence_session_transitions_total",
			Help: "Session lifecycle transitions handled by the session manager.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(receivedTotal, sessionTransitions)
}
