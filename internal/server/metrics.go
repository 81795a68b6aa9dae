package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's instrumentation. A private registry keeps
// the exposition limited to gateway series.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	inflight        prometheus.Gauge
	rateLimited     prometheus.Counter
	backendDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by method and status code.",
		}, []string{"method", "status"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Requests currently being handled.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		backendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_backend_duration_seconds",
			Help:    "Backend round-trip duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
	}
}

// Handler serves the text exposition for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts every request and tracks the in-flight gauge.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inflight.Inc()
		defer m.inflight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// RateLimited records a 429 rejection.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// ObserveBackend records one backend round trip.
func (m *Metrics) ObserveBackend(backend string, d time.Duration) {
	m.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}
