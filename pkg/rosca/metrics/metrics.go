// Package metrics exposes Prometheus metrics for HTTP traffic and draws.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on their own registry so tests can create
// as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	draws           *prometheus.CounterVec
	payoutTotal     prometheus.Counter
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rosca_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rosca_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rosca_draws_total",
			Help: "Draw attempts by result.",
		}, []string{"result"}),
		payoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rosca_payout_amount_total",
			Help: "Sum of payout amounts created by successful draws.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.draws,
		m.payoutTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records request count and latency. Unmatched routes are
// grouped under "unmatched" to keep label cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveDraw counts a draw attempt. payout is only added for successes.
func (m *Metrics) ObserveDraw(result string, payout int64) {
	m.draws.WithLabelValues(result).Inc()
	if result == "success" && payout > 0 {
		m.payoutTotal.Add(float64(payout))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
