// Package metrics exposes Prometheus metrics for the tracker and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presencewatch"

// Collector implements tracker.Metrics and instruments HTTP handlers.
type Collector struct {
	registry *prometheus.Registry

	checks        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	removals      *prometheus.CounterVec
	targets       *prometheus.GaugeVec

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "checks_total",
			Help:      "Presence checks by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "removals_total",
			Help:      "Targets removed, by reason.",
		}, []string{"reason"}),
		targets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "targets",
			Help:      "Live targets by phase.",
		}, []string{"phase"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
	}
	for _, col := range []prometheus.Collector{
		c.checks, c.notifications, c.removals, c.targets, c.requestDuration, c.requestTotal,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Check(result string) {
	c.checks.WithLabelValues(result).Inc()
}

func (c *Collector) Notification(kind, outcome string) {
	c.notifications.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Removal(reason string) {
	c.removals.WithLabelValues(reason).Inc()
}

func (c *Collector) PhaseChanged(from, to string) {
	if from != "" {
		c.targets.WithLabelValues(from).Dec()
	}
	if to != "" {
		c.targets.WithLabelValues(to).Inc()
	}
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request count and latency. Paths are labelled
// with the chi route pattern when one matched.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(rw.status)
		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
