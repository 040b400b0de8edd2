package monitoring

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Collectors register on the default registry, so all tests in the package
// share one instance.
var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func testMetrics() *Metrics {
	metricsOnce.Do(func() { metrics = New() })
	return metrics
}

func TestRecordRequest(t *testing.T) {
	m := testMetrics()
	before := m.GetSnapshot()

	m.RecordRequest("GET", "/watch", "200", 10*time.Millisecond, 1024)
	m.RecordRequest("GET", "/watch", "502", 5*time.Millisecond, 64)
	m.RecordRequest("POST", "/watch", "400", time.Millisecond, 32)

	after := m.GetSnapshot()
	assert.Equal(t, before.TotalRequests+3, after.TotalRequests)
	assert.Equal(t, before.TotalErrors+2, after.TotalErrors, "4xx and 5xx both count as errors")
	assert.Greater(t, after.AvgDurationMS, 0.0)
}

func TestTunnelGauge(t *testing.T) {
	m := testMetrics()
	before := m.GetSnapshot()

	m.TunnelOpened()
	m.TunnelOpened()
	assert.Equal(t, before.ActiveTunnels+2, m.GetSnapshot().ActiveTunnels)

	m.TunnelClosed()
	assert.Equal(t, before.ActiveTunnels+1, m.GetSnapshot().ActiveTunnels)

	m.TunnelClosed()
	assert.Equal(t, before.ActiveTunnels, m.GetSnapshot().ActiveTunnels)
}

func TestSnapshotUptime(t *testing.T) {
	m := testMetrics()
	s := m.GetSnapshot()
	assert.Greater(t, s.UptimeSeconds, 0.0)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := testMetrics()
	before := m.GetSnapshot()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/boom", func(c *gin.Context) { c.String(http.StatusBadGateway, "bad") })

	for _, path := range []string{"/ok", "/boom", "/nowhere"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	after := m.GetSnapshot()
	require.Equal(t, before.TotalRequests+3, after.TotalRequests)
	// /boom (502) and the unmatched route (404) are errors.
	assert.Equal(t, before.TotalErrors+2, after.TotalErrors)
}
