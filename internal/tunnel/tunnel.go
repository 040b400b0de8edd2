// Package tunnel bridges inbound websocket upgrades to outbound sockets at
// the decoded target, relaying bytes with no protocol awareness.
package tunnel

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/monitoring"
)

// Decoder turns a path token back into the absolute URL it encodes.
type Decoder interface {
	Decode(token string) (string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The proxy fronts arbitrary rewritten origins; origin checks happen
	// at the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge upgrades inbound connections and relays them to their targets.
type Bridge struct {
	decoder Decoder
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu   sync.Mutex
	open map[*websocket.Conn]struct{}
}

// NewBridge creates a tunnel bridge.
func NewBridge(decoder Decoder, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		decoder: decoder,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		open:    make(map[*websocket.Conn]struct{}),
	}
}

// WithMetrics attaches the metrics collector.
func (b *Bridge) WithMetrics(m *monitoring.Metrics) *Bridge {
	b.metrics = m
	return b
}

// Handle upgrades the request and bridges it to the target encoded in the
// "target" query parameter. The handler returns when either leg closes.
func (b *Bridge) Handle(c *gin.Context) {
	token := c.Query("target")
	target, err := b.decoder.Decode(token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing target token"})
		return
	}

	wsURL, err := toWebSocketURL(target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is not tunnelable"})
		return
	}

	inbound, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer inbound.Close()

	// Browser-like handshake toward the real destination.
	header := http.Header{}
	header.Set("User-Agent", c.Request.UserAgent())
	if origin := originFor(target); origin != "" {
		header.Set("Origin", origin)
	}

	outbound, resp, err := b.dialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		b.logger.Warn("outbound websocket dial failed",
			zap.String("target", wsURL),
			zap.Int("status", status),
			zap.Error(err),
		)
		inbound.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream unavailable"))
		return
	}
	defer outbound.Close()

	b.track(inbound, true)
	defer b.track(inbound, false)
	if b.metrics != nil {
		b.metrics.TunnelOpened()
		defer b.metrics.TunnelClosed()
	}

	b.logger.Debug("tunnel established", zap.String("target", wsURL))

	// Two pumps, one per direction. The first to fail closes both legs;
	// the deferred Closes unblock the surviving pump.
	errc := make(chan error, 2)
	go pump(outbound, inbound, errc)
	go pump(inbound, outbound, errc)
	<-errc
}

// CloseAll force-closes every open tunnel. Used at shutdown. The close frame
// goes out via WriteControl, which may run concurrently with the tunnel's own
// pump writes.
func (b *Bridge) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for conn := range b.open {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		conn.Close()
	}
	b.open = make(map[*websocket.Conn]struct{})
}

// ActiveCount returns the number of open tunnels.
func (b *Bridge) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *Bridge) track(conn *websocket.Conn, add bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if add {
		b.open[conn] = struct{}{}
	} else {
		delete(b.open, conn)
	}
}

func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}

// toWebSocketURL maps an http(s) target onto its ws(s) equivalent; ws(s)
// targets pass through.
func toWebSocketURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported tunnel scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func originFor(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	scheme := "https"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}
