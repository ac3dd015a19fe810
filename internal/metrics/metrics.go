// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface metrics
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Vendor call metrics
	VendorCallTotal    *prometheus.CounterVec
	VendorCallDuration *prometheus.HistogramVec

	// Sync metrics
	SyncRunTotal    *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	SyncEntities    *prometheus.CounterVec
	SyncRunning     *prometheus.GaugeVec
	TokenRefreshes  *prometheus.CounterVec
	ConsentsPurged  prometheus.Counter
	SIEUploadsTotal *prometheus.CounterVec
}

// New creates all Prometheus metrics on a fresh registry. Each Metrics owns
// its registry, so multiple instances never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		VendorCallTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_vendor_calls_total",
				Help: "Total number of upstream vendor API calls",
			},
			[]string{"provider", "status"}, // status: 2xx, 4xx, 5xx, error
		),

		VendorCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_vendor_call_duration_seconds",
				Help:    "Upstream vendor API call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider"},
		),

		SyncRunTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sync_runs_total",
				Help: "Total number of sync runs",
			},
			[]string{"provider", "result"}, // result: completed, failed
		),

		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_sync_duration_seconds",
				Help:    "Wall-clock duration of full sync runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"provider"},
		),

		SyncEntities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sync_entities_total",
				Help: "Entities processed by sync runs, by change outcome",
			},
			[]string{"provider", "entity_type", "change"}, // change: inserted, updated, unchanged
		),

		SyncRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_sync_running",
				Help: "Whether a sync is currently running for a connection (1) or not (0)",
			},
			[]string{"provider"},
		),

		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_refreshes_total",
				Help: "Total number of vendor token refresh attempts",
			},
			[]string{"provider", "result"}, // result: ok, error
		),

		ConsentsPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_consents_purged_total",
				Help: "Consents removed by the retention purge loop",
			},
		),

		SIEUploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sie_uploads_total",
				Help: "Total number of SIE file uploads processed",
			},
			[]string{"result"}, // result: stored, rejected
		),
	}
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with request counting and latency observation.
// route should be the mux template, not the concrete URL, to keep label
// cardinality bounded.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RequestTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordVendorCall records one upstream call outcome
func (m *Metrics) RecordVendorCall(provider string, statusCode int, duration float64) {
	status := "error"
	switch {
	case statusCode >= 200 && statusCode < 300:
		status = "2xx"
	case statusCode >= 400 && statusCode < 500:
		status = "4xx"
	case statusCode >= 500:
		status = "5xx"
	}
	m.VendorCallTotal.WithLabelValues(provider, status).Inc()
	m.VendorCallDuration.WithLabelValues(provider).Observe(duration)
}

// RecordSyncRun records a completed or failed sync run
func (m *Metrics) RecordSyncRun(provider string, failed bool, duration float64) {
	result := "completed"
	if failed {
		result = "failed"
	}
	m.SyncRunTotal.WithLabelValues(provider, result).Inc()
	m.SyncDuration.WithLabelValues(provider).Observe(duration)
}

// RecordSyncEntities records the change breakdown for one entity type
func (m *Metrics) RecordSyncEntities(provider, entityType string, inserted, updated, unchanged int) {
	m.SyncEntities.WithLabelValues(provider, entityType, "inserted").Add(float64(inserted))
	m.SyncEntities.WithLabelValues(provider, entityType, "updated").Add(float64(updated))
	m.SyncEntities.WithLabelValues(provider, entityType, "unchanged").Add(float64(unchanged))
}

// SetSyncRunning flips the per-provider running gauge
func (m *Metrics) SetSyncRunning(provider string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.SyncRunning.WithLabelValues(provider).Set(v)
}

// RecordTokenRefresh records a background token refresh attempt
func (m *Metrics) RecordTokenRefresh(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TokenRefreshes.WithLabelValues(provider, result).Inc()
}

// RecordSIEUpload records one processed SIE file
func (m *Metrics) RecordSIEUpload(stored bool) {
	result := "rejected"
	if stored {
		result = "stored"
	}
	m.SIEUploadsTotal.WithLabelValues(result).Inc()
}
