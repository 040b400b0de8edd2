// Package session implements the shared-session sub-protocol layered over
// tunnel connections: multiple members join a session by id, merge partial
// state into it, and receive sanitized broadcasts of the merged state.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/monitoring"
)

// Message is the wire format of the sub-protocol.
type Message struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"session_id,omitempty"`
	SessionType string                 `json:"session_type,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	State       map[string]interface{} `json:"state,omitempty"`
	Action      string                 `json:"action,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Snapshot is the sanitized view broadcast to members. It never carries
// internal member identifiers.
type Snapshot struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"session_id"`
	SessionType string                 `json:"session_type"`
	State       map[string]interface{} `json:"state"`
	Members     int                    `json:"members"`
	Timestamp   int64                  `json:"timestamp"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// Event is the fan-out form of an action message. Actions never mutate
// shared state.
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// sender is the write half of a member connection. gorilla's *websocket.Conn
// satisfies it; tests provide fakes.
type sender interface {
	WriteJSON(v interface{}) error
}

type member struct {
	id   string
	conn sender
	mu   sync.Mutex
}

func newMember(id string, conn sender) *member {
	return &member{id: id, conn: conn}
}

// send is the only path allowed to write to the connection. Broadcasts from
// other members' goroutines and the handler's own replies share this mutex;
// gorilla connections tolerate a single writer at a time.
func (m *member) send(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.WriteJSON(v)
}

// Session is one shared state instance. It is active while it has members
// and deleted when the last member leaves.
type Session struct {
	ID        string
	Type      string
	State     map[string]interface{}
	Settings  map[string]interface{}
	CreatedAt time.Time
	members   map[string]*member
}

// Hub owns all sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewHub creates an empty session hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger,
		now:      time.Now,
	}
}

// WithMetrics attaches the metrics collector.
func (h *Hub) WithMetrics(m *monitoring.Metrics) *Hub {
	h.metrics = m
	return h
}

var hubUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and runs the sub-protocol until the member
// disconnects.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := hubUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("session upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The wrapper is created before init so every reply, join broadcast
	// included, goes through the same write lock.
	self := newMember(uuid.NewString(), conn)
	var joined string

	defer func() {
		if joined != "" {
			h.Leave(joined, self.id)
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "init":
			if msg.SessionID == "" {
				self.send(gin.H{"type": "error", "message": "session_id required"})
				continue
			}
			if joined != "" && joined != msg.SessionID {
				h.Leave(joined, self.id)
			}
			s := h.Join(msg.SessionID, msg.SessionType, msg.Settings, self)
			joined = s.ID
			h.broadcast(s.ID)
		case "state":
			if joined == "" {
				self.send(gin.H{"type": "error", "message": "init required before state"})
				continue
			}
			h.Update(joined, msg.State)
			h.broadcast(joined)
		case "action":
			if joined == "" {
				self.send(gin.H{"type": "error", "message": "init required before action"})
				continue
			}
			h.FanOut(joined, msg.Action, msg.Payload)
		case "ping":
			self.send(gin.H{"type": "pong"})
		default:
			self.send(gin.H{"type": "error", "message": "unknown message type"})
		}
	}
}

// Join creates the session if absent and adds the member to it.
func (h *Hub) Join(sessionID, sessionType string, settings map[string]interface{}, m *member) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		s = &Session{
			ID:        sessionID,
			Type:      sessionType,
			State:     make(map[string]interface{}),
			Settings:  settings,
			CreatedAt: h.now(),
			members:   make(map[string]*member),
		}
		h.sessions[sessionID] = s
		if h.metrics != nil {
			h.metrics.SessionsActive.Inc()
		}
		h.logger.Info("session created",
			zap.String("session_id", sessionID),
			zap.String("session_type", sessionType),
		)
	}

	s.members[m.id] = m
	return s
}

// Leave removes the member; removing the last member deletes the session.
func (h *Hub) Leave(sessionID, memberID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(s.members, memberID)
	empty := len(s.members) == 0
	if empty {
		delete(h.sessions, sessionID)
		if h.metrics != nil {
			h.metrics.SessionsActive.Dec()
		}
	}
	h.mu.Unlock()

	if empty {
		h.logger.Info("session closed", zap.String("session_id", sessionID))
	} else {
		h.broadcast(sessionID)
	}
}

// Update merges partial state into the session. Existing keys not named in
// the update are preserved.
func (h *Hub) Update(sessionID string, partial map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for k, v := range partial {
		s.State[k] = v
	}
}

// Snapshot returns the sanitized view of the session, or false when the
// session does not exist.
func (h *Hub) Snapshot(sessionID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return h.snapshotLocked(s), true
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// FanOut delivers an action to every member as an event without touching
// shared state.
func (h *Hub) FanOut(sessionID, action string, payload map[string]interface{}) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	ev := Event{
		Type:      "session_event",
		SessionID: s.ID,
		Action:    action,
		Payload:   payload,
		Timestamp: h.now().Unix(),
	}
	targets := membersOf(s)
	h.mu.RUnlock()

	for _, m := range targets {
		if err := m.send(ev); err != nil {
			h.logger.Debug("event delivery failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (h *Hub) broadcast(sessionID string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	snap := h.snapshotLocked(s)
	targets := membersOf(s)
	h.mu.RUnlock()

	for _, m := range targets {
		if err := m.send(snap); err != nil {
			h.logger.Debug("broadcast delivery failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (h *Hub) snapshotLocked(s *Session) Snapshot {
	state := make(map[string]interface{}, len(s.State))
	for k, v := range s.State {
		state[k] = v
	}
	return Snapshot{
		Type:        "session_state",
		SessionID:   s.ID,
		SessionType: s.Type,
		State:       state,
		Members:     len(s.members),
		Timestamp:   h.now().Unix(),
		Settings:    s.Settings,
	}
}

func membersOf(s *Session) []*member {
	out := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}
