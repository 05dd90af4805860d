// Package metrics exposes per-service Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can live in one process.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	logins    *prometheus.CounterVec
	mutations *prometheus.CounterVec
	changes   *prometheus.CounterVec
}

// New registers the collectors of service.
func New(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "shelfkeeper",
			Name:        "http_requests_total",
			Help:        "HTTP requests by method and status.",
			ConstLabels: labels,
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "shelfkeeper",
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "shelfkeeper",
			Name:        "login_attempts_total",
			Help:        "Login attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "shelfkeeper",
			Name:        "inventory_mutations_total",
			Help:        "Inventory mutations by operation and outcome.",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "shelfkeeper",
			Name:        "collection_changes_total",
			Help:        "Accepted collection writes by resource and operation.",
			ConstLabels: labels,
		}, []string{"resource", "op"}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.logins, m.mutations, m.changes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests and observes their latency. A nil Metrics
// passes requests through untouched.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Mutation(op, outcome string) {
	if m != nil {
		m.mutations.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) Change(resource, op string) {
	if m != nil {
		m.changes.WithLabelValues(resource, op).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
