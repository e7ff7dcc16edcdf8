package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Agent API collectors. The path label is the registered route so label
// cardinality stays bounded; unmatched requests share the "unmatched" label.
var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_http_requests_total",
			Help: "Agent API requests by method, route and status class.",
		},
		[]string{"method", "route", "class"},
	)
	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_http_request_duration_seconds",
			Help: "Agent API latency. Outcome routes include the backend round trip.",
			// measure calls go through the retrying client, so the tail is long
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	apiInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_http_requests_inflight",
			Help: "Agent API requests being served.",
		},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiLatency, apiInflight)
}

// statusClass buckets a status code as "2xx", "4xx", ...
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// Metrics instruments every request with the agent API collectors.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		apiInflight.Inc()
		defer apiInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		apiRequests.WithLabelValues(method, route, statusClass(c.Writer.Status())).Inc()
		apiLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
