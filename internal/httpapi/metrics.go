package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	trustRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	trustRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trust_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	trustEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_audit_events_total",
		Help: "Total audit events appended, by action tag.",
	}, []string{"action"})

	trustVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_verifications_total",
		Help: "Total timeline integrity checks by result.",
	}, []string{"result"})

	trustProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_proposals_total",
		Help: "Total proposal state transitions by outcome.",
	}, []string{"outcome"})

	trustAnchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_anchors_total",
		Help: "Total anchor commitments by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		trustRequestsTotal.WithLabelValues(method, path, status).Inc()
		trustRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEventAppend records one appended audit event.
func RecordEventAppend(action string) {
	trustEventsTotal.WithLabelValues(action).Inc()
}

// RecordVerification records the outcome of a timeline integrity check.
func RecordVerification(valid bool) {
	if valid {
		trustVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		trustVerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordProposalOutcome records a proposal transition ("created", "signed",
// "approved", "rejected").
func RecordProposalOutcome(outcome string) {
	trustProposalsTotal.WithLabelValues(outcome).Inc()
}

// RecordAnchor records an anchor attempt result.
func RecordAnchor(success bool) {
	if success {
		trustAnchorsTotal.WithLabelValues("success").Inc()
	} else {
		trustAnchorsTotal.WithLabelValues("failure").Inc()
	}
}
