// Package monitoring provides Prometheus metrics for the proxy and a JSON
// snapshot for the /metrics/json endpoint.
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Proxy engine
	FetchesTotal  *prometheus.CounterVec
	FetchRetries  prometheus.Counter
	RewritesTotal *prometheus.CounterVec

	// Cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Tunnels and sessions
	TunnelsActive  prometheus.Gauge
	TunnelsTotal   prometheus.Counter
	SessionsActive prometheus.Gauge

	Uptime    prometheus.Gauge
	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON metrics API.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	ActiveTunnels int64   `json:"active_tunnels"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	totalDuration time.Duration
}

// New creates the metrics collector. Collectors register on the default
// registry; construct at most one per process.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_http_requests_total",
				Help: "Total HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		FetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_fetches_total",
				Help: "Outbound fetches by outcome",
			},
			[]string{"outcome"},
		),
		FetchRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_fetch_retries_total",
				Help: "Outbound fetch retry attempts",
			},
		),
		RewritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_rewrites_total",
				Help: "Content rewrites by content class",
			},
			[]string{"kind"},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_cache_hits_total",
				Help: "Response cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_cache_misses_total",
				Help: "Response cache misses",
			},
		),
		CacheEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_cache_evictions_total",
				Help: "Response cache evictions",
			},
		),

		TunnelsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lens_tunnels_active",
				Help: "Open websocket tunnels",
			},
		),
		TunnelsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lens_tunnels_total",
				Help: "Total websocket tunnels opened",
			},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lens_sessions_active",
				Help: "Active shared sessions",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lens_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
}

// RecordRequest records one handled HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if respSize > 0 {
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// TunnelOpened and TunnelClosed track the active tunnel gauge.
func (m *Metrics) TunnelOpened() {
	m.TunnelsTotal.Inc()
	m.TunnelsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveTunnels++
	m.mu.Unlock()
}

func (m *Metrics) TunnelClosed() {
	m.TunnelsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveTunnels--
	m.mu.Unlock()
}

// GetSnapshot returns current values for the JSON API.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	if s.TotalRequests > 0 {
		s.AvgDurationMS = float64(s.totalDuration.Milliseconds()) / float64(s.TotalRequests)
	}
	m.Uptime.Set(s.UptimeSeconds)
	return s
}
