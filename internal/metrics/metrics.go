// Package metrics exposes Prometheus instrumentation for the broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TerminalsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_terminals_active",
			Help: "Number of live PTY instances",
		},
	)

	TerminalCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_terminal_creates_total",
			Help: "Total terminal creations",
		},
		[]string{"status"},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_ws_connections_active",
			Help: "Number of live WebSocket connections",
		},
	)

	BroadcastBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_broadcast_bytes_total",
			Help: "Total bytes fanned out to terminal viewers",
		},
	)

	QueueOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_queue_outcomes_total",
			Help: "Queue terminal states by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		TerminalsActive,
		TerminalCreatesTotal,
		ConnectionsActive,
		BroadcastBytesTotal,
		QueueOutcomesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware instruments HTTP requests with count and latency.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
