package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the gateway.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	proxyErrorsTotal prometheus.Counter
	videoBytesTotal  prometheus.Counter
	activeWebsockets prometheus.Gauge
	backendUp        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	proxyErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_proxy_errors_total",
		Help: "Total number of API requests that failed to reach the backend",
	})
	videoBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_video_bytes_total",
		Help: "Total number of video body bytes served from disk",
	})
	activeWebsockets := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_websockets",
		Help: "Number of WebSocket connections currently proxied to the backend",
	})
	backendUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_backend_up",
		Help: "1 once the backend subprocess has passed its readiness probe",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		proxyErrorsTotal,
		videoBytesTotal,
		activeWebsockets,
		backendUp,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		proxyErrorsTotal: proxyErrorsTotal,
		videoBytesTotal:  videoBytesTotal,
		activeWebsockets: activeWebsockets,
		backendUp:        backendUp,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the error response counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncProxyErrors increments the backend-unreachable counter.
func (m *Metrics) IncProxyErrors() {
	m.proxyErrorsTotal.Inc()
}

// AddVideoBytes records body bytes served by the video file server.
func (m *Metrics) AddVideoBytes(n int64) {
	if n > 0 {
		m.videoBytesTotal.Add(float64(n))
	}
}

// WSOpened increments the active WebSocket gauge.
func (m *Metrics) WSOpened() {
	m.activeWebsockets.Inc()
}

// WSClosed decrements the active WebSocket gauge.
func (m *Metrics) WSClosed() {
	m.activeWebsockets.Dec()
}

// SetBackendUp records whether the backend has passed its readiness probe.
func (m *Metrics) SetBackendUp(up bool) {
	if up {
		m.backendUp.Set(1)
	} else {
		m.backendUp.Set(0)
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values; it may be nil.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
