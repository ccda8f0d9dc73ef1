// Package metrics exposes Prometheus instrumentation for the HTTP surface,
// the verify/settle scheme dispatch, and the bridge worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the facilitator registers.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge

	bridgeJobsTotal    *prometheus.CounterVec
	bridgeJobDuration  *prometheus.HistogramVec
	bridgeJobsInFlight prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_requests_total", Help: "Total number of HTTP requests"},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "facilitator_request_duration_seconds", Help: "HTTP request duration in seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "endpoint"},
		),
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_verify_total", Help: "Total number of verify requests"},
			[]string{"network", "scheme", "result"},
		),
		settleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_settle_total", Help: "Total number of settle requests"},
			[]string{"network", "scheme", "result"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "facilitator_active_requests", Help: "Number of currently active requests"},
		),
		bridgeJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "facilitator_bridge_jobs_total", Help: "Total number of bridge jobs by terminal outcome"},
			[]string{"source_network", "destination_network", "status"},
		),
		bridgeJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "facilitator_bridge_job_duration_seconds", Help: "Time from bridge job creation to terminal state", Buckets: prometheus.DefBuckets},
			[]string{"source_network", "destination_network"},
		),
		bridgeJobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "facilitator_bridge_jobs_in_flight", Help: "Number of bridge jobs currently pending or bridging"},
		),
	}

	prometheus.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.verifyTotal,
		m.settleTotal,
		m.activeRequests,
		m.bridgeJobsTotal,
		m.bridgeJobDuration,
		m.bridgeJobsInFlight,
	)

	return m
}

// Middleware records per-request counters, duration, and in-flight gauge.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.requestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}

func (m *Metrics) RecordVerify(network, scheme string, success bool) {
	m.verifyTotal.WithLabelValues(network, scheme, outcome(success)).Inc()
}

func (m *Metrics) RecordSettle(network, scheme string, success bool) {
	m.settleTotal.WithLabelValues(network, scheme, outcome(success)).Inc()
}

// RecordBridgeJobStart increments the in-flight gauge when a job enters
// pending/bridging.
func (m *Metrics) RecordBridgeJobStart() {
	m.bridgeJobsInFlight.Inc()
}

// RecordBridgeJobTerminal decrements in-flight and records the terminal
// outcome and total duration.
func (m *Metrics) RecordBridgeJobTerminal(sourceNetwork, destinationNetwork, status string, duration time.Duration) {
	m.bridgeJobsInFlight.Dec()
	m.bridgeJobsTotal.WithLabelValues(sourceNetwork, destinationNetwork, status).Inc()
	m.bridgeJobDuration.WithLabelValues(sourceNetwork, destinationNetwork).Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
