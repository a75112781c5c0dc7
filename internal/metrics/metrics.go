// Package metrics provides Prometheus metrics for the playground gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_builds_total",
			Help: "Preview builds by outcome",
		},
		[]string{"status"},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_build_duration_seconds",
			Help:    "Time from snapshot to synthesized document",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	transpileCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_transpile_cache_total",
			Help: "Transpile cache lookups by result",
		},
		[]string{"result"},
	)

	diagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_diagnostics_total",
			Help: "Diagnostics accepted by the bridge",
		},
		[]string{"severity", "origin"},
	)

	staleMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_stale_messages_total",
			Help: "Sandbox messages dropped because their generation was not current",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playground_active_sessions",
			Help: "Number of live playground sessions",
		},
	)
)

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. route should be a low
// cardinality label such as the mux pattern.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}

func RecordBuild(status string, d time.Duration) {
	buildsTotal.WithLabelValues(status).Inc()
	buildDuration.Observe(d.Seconds())
}

func RecordTranspileCache(hit bool) {
	if hit {
		transpileCache.WithLabelValues("hit").Inc()
		return
	}
	transpileCache.WithLabelValues("miss").Inc()
}

func RecordDiagnostic(severity, origin string) {
	diagnosticsTotal.WithLabelValues(severity, origin).Inc()
}

func RecordStaleMessage() {
	staleMessagesTotal.Inc()
}

func SessionOpened() {
	activeSessions.Inc()
}

func SessionClosed() {
	activeSessions.Dec()
}
