// Package metrics exposes Prometheus collectors for exam sessions, grading
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "examroom"

// Metrics groups every collector the server records.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsAbandoned prometheus.Counter
	Terminations      *prometheus.CounterVec
	SubmitFailures    prometheus.Counter
	Violations        prometheus.Counter
	TokenRedemptions  *prometheus.CounterVec
	SubmissionsGraded prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry. Pass withRuntime to add
// the Go runtime and process collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "started_total",
			Help: "Exam attempts that reached the active state.",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active",
			Help: "Exam attempts currently running in this process.",
		}),
		SessionsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "abandoned_total",
			Help: "Attempts dropped without a submission.",
		}),
		Terminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "submitted_total",
			Help: "Stored submissions by termination reason.",
		}, []string{"reason"}),
		SubmitFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "submit_failures_total",
			Help: "Failed attempts to store a submission.",
		}),
		Violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "integrity", Name: "violations_total",
			Help: "Counted visibility violations.",
		}),
		TokenRedemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "unlock", Name: "redemptions_total",
			Help: "Exam token redemptions by outcome.",
		}, []string{"outcome"}),
		SubmissionsGraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grading", Name: "finalized_total",
			Help: "Submissions finalized by a grader.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency per matched route.
// Unmatched routes are grouped under "unmatched" to bound label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
