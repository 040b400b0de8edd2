// Package api holds the HTTP handlers for the proxy surface: resolution
// through /watch, health, and the JSON metrics view.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/logging"
	"github.com/lensproxy/lens/internal/monitoring"
	"github.com/lensproxy/lens/internal/proxy"
	"github.com/lensproxy/lens/internal/proxy/fetch"
	"github.com/lensproxy/lens/internal/proxy/proxyerr"
	"github.com/lensproxy/lens/internal/tunnel"
)

// Handlers bundles the request handlers and their dependencies.
type Handlers struct {
	engine  *proxy.Engine
	bridge  *tunnel.Bridge
	metrics *monitoring.Metrics
	logger  *logging.Logger
	debug   bool
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(engine *proxy.Engine, bridge *tunnel.Bridge, metrics *monitoring.Metrics, logger *logging.Logger, debug bool) *Handlers {
	return &Handlers{
		engine:  engine,
		bridge:  bridge,
		metrics: metrics,
		logger:  logger,
		debug:   debug,
		started: time.Now(),
	}
}

// Watch resolves GET /watch?url=<token> into the rewritten resource.
func (h *Handlers) Watch(c *gin.Context) {
	token := c.Query("url")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url token"})
		return
	}

	result, err := h.engine.ResolveToken(c.Request.Context(), token, fetch.Options{})
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.serve(c, result)
}

type watchRequest struct {
	URL string `json:"url" binding:"required"`
}

// WatchPost resolves POST /watch {"url": "..."}. Bare hostnames default to
// https.
func (h *Handlers) WatchPost(c *gin.Context) {
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}

	target := strings.TrimSpace(req.URL)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	result, err := h.engine.Resolve(c.Request.Context(), target, fetch.Options{})
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.serve(c, result)
}

func (h *Handlers) serve(c *gin.Context, result *proxy.Result) {
	if result.CacheHit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(result.Status, contentType, result.Body)
}

// renderError maps the proxy error taxonomy onto user-facing responses.
// Handler errors never crash the process; gin's recovery middleware guards
// anything that slips through.
func (h *Handlers) renderError(c *gin.Context, err error) {
	if h.debug {
		h.logger.Error("watch resolution failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	} else {
		h.logger.Warn("watch resolution failed", zap.Error(err))
	}

	switch {
	case errors.Is(err, proxyerr.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "invalid url token",
			"retryable": false,
		})
	case proxyerr.UpstreamFailure(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "upstream fetch failed",
			"retryable": proxyerr.Retryable(err),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "internal error",
			"retryable": true,
		})
	}
}

// Health serves GET /health.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.engine.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(h.started).Seconds(),
		"cache": gin.H{
			"entries":  stats.Entries,
			"hit_rate": stats.HitRate,
			"memory":   stats.MemoryBytes,
		},
		"active_tunnels": h.bridge.ActiveCount(),
	})
}

// MetricsJSON serves GET /metrics/json.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"process": h.metrics.GetSnapshot(),
		"cache":   h.engine.CacheStats(),
	})
}

// Root serves a minimal homepage with a form resolving through the proxy.
func (h *Handlers) Root(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(homepage))
}

const homepage = `<!DOCTYPE html>
<html>
<head><title>lens</title></head>
<body>
<h1>lens</h1>
<form onsubmit="go(event)">
  <input id="u" type="text" placeholder="https://example.com" size="50" autofocus>
  <button type="submit">Open</button>
</form>
<script>
function go(ev) {
  ev.preventDefault();
  var u = document.getElementById("u").value.trim();
  if (!/^https?:\/\//.test(u)) { u = "https://" + u; }
  var token = btoa(unescape(encodeURIComponent(u)))
    .replace(/\+/g, "-").replace(/\//g, "_").replace(/=+$/, "");
  window.location.href = "/watch?url=" + token;
}
</script>
</body>
</html>`
