// Package realtime pushes flow states and asset events to connected
// dashboard sessions over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"waterwatch/pkg/logger"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/services/flowstate"
)

var ErrHubClosed = errors.New("realtime hub closed")

// Frame types sent to sessions in addition to event envelopes.
const (
	FrameFlowState = "flow_state"
)

// Frame wraps a full flow state for a session.
type Frame struct {
	Type string          `json:"type"`
	Data flowstate.State `json:"data"`
}

type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     16,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live sessions. A session whose send buffer is full when a
// message arrives is disconnected.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	latest   []byte
	closed   bool
}

func NewHub(cfg Config, m *metrics.Metrics) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	h := &Hub{
		cfg:      cfg,
		metrics:  m,
		log:      logger.WithComponent("realtime"),
		sessions: make(map[string]*session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and registers a session. The session first
// receives the latest flow state, if there is one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Health(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	if !h.register(s) {
		conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.id] = s
	if h.latest != nil {
		s.send <- h.latest
	}
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSessions(n)
	h.log.Info("session connected", "session", s.id, "sessions", n)
	return true
}

// remove closes the session's send channel once; the write pump then closes
// the connection.
func (h *Hub) remove(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	close(s.send)
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSessions(n)
	h.log.Info("session disconnected", "session", s.id, "sessions", n)
}

func (h *Hub) readPump(s *session) {
	defer h.remove(s)

	s.conn.SetReadLimit(h.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("session read error", "session", s.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("session write failed", "session", s.id, "error", err)
				go h.remove(s)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go h.remove(s)
				return
			}
		}
	}
}

// Broadcast queues data for every session without blocking.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	slow := h.queueLocked(data)
	h.mu.RUnlock()

	h.dropSlow(slow)
}

// queueLocked hands data to every session and returns the ones whose
// buffer was full. The caller holds mu.
func (h *Hub) queueLocked(data []byte) []*session {
	var slow []*session
	for _, s := range h.sessions {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	return slow
}

func (h *Hub) dropSlow(slow []*session) {
	for _, s := range slow {
		h.log.Warn("dropping slow session", "session", s.id)
		h.remove(s)
	}
}

// PublishFlow broadcasts a state and keeps it for sessions that connect
// later. Every session sees each state once: either queued on register or
// by the broadcast, never both.
func (h *Hub) PublishFlow(ctx context.Context, state flowstate.State) error {
	data, err := json.Marshal(Frame{Type: FrameFlowState, Data: state})
	if err != nil {
		return fmt.Errorf("failed to marshal flow frame: %w", err)
	}

	h.mu.Lock()
	h.latest = data
	slow := h.queueLocked(data)
	h.mu.Unlock()

	h.dropSlow(slow)
	return nil
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Health fails once the hub has been closed and no longer accepts sessions.
func (h *Hub) Health(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	return nil
}

// Close disconnects every session and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, s := range h.sessions {
		delete(h.sessions, id)
		close(s.send)
	}
	h.mu.Unlock()

	h.metrics.SetSessions(0)
}
