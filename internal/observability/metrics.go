package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the ledger.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	postingsTotal    *prometheus.CounterVec
	negativeBalances *prometheus.CounterVec
	ledgerDrift      *prometheus.GaugeVec
}

// NewMetrics builds a private registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_postings_total",
		Help: "Ledger rows written by transaction type.",
	}, []string{"type"})
	negative := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_negative_balance_total",
		Help: "Postings that left a component below zero.",
	}, []string{"component"})
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_stock_ledger_drift",
		Help: "Difference between quantity on hand and the ledger sum, per component.",
	}, []string{"component"})
	registry.MustRegister(requests, duration, postings, negative, drift)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		postingsTotal:    postings,
		negativeBalances: negative,
		ledgerDrift:      drift,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordPosting counts one ledger row of the given type.
func (m *Metrics) RecordPosting(txType string) {
	if m == nil {
		return
	}
	m.postingsTotal.WithLabelValues(txType).Inc()
}

// RecordNegativeBalance counts a posting that drove a component negative.
func (m *Metrics) RecordNegativeBalance(componentID int64) {
	if m == nil {
		return
	}
	m.negativeBalances.WithLabelValues(strconv.FormatInt(componentID, 10)).Inc()
}

// RecordDrift publishes the last reconciled drift for a component.
func (m *Metrics) RecordDrift(componentID int64, drift float64) {
	if m == nil {
		return
	}
	m.ledgerDrift.WithLabelValues(strconv.FormatInt(componentID, 10)).Set(drift)
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
