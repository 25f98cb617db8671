// Package ws implements the WebSocket adapter that streams agent events to
// the clients watching a session.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/port/broadcast"
)

const writeTimeout = 5 * time.Second

var _ broadcast.Broadcaster = (*Hub)(nil)

// conn wraps a single WebSocket connection subscribed to one session.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	cancel    context.CancelFunc
}

// Hub manages active WebSocket connections grouped by session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*conn]struct{}
	origins  []string
}

// NewHub creates a new WebSocket hub. origins lists accepted Origin host
// patterns; an empty list accepts any origin (CORS is handled by middleware).
func NewHub(origins ...string) *Hub {
	return &Hub{
		sessions: make(map[string]map[*conn]struct{}),
		origins:  origins,
	}
}

// HandleWS upgrades a request for /ws?session_id=... and keeps the
// connection subscribed until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origins,
		InsecureSkipVerify: len(h.origins) == 0,
	})
	if err != nil {
		slog.Error("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, sessionID: sessionID, cancel: cancel}
	h.add(c)

	slog.Info("websocket connected", "session_id", sessionID, "remote", r.RemoteAddr)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	// Clients only listen; reading detects disconnects and consumes pings.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// SendToSession writes ev to every connection of sessionID.
func (h *Hub) SendToSession(ctx context.Context, sessionID string, ev event.AgentEvent) {
	data, err := event.Marshal(ev)
	if err != nil {
		slog.Error("websocket marshal failed", "session_id", sessionID, "type", ev.Type(), "error", err)
		return
	}
	h.send(ctx, sessionID, data)
}

func (h *Hub) send(ctx context.Context, sessionID string, data []byte) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "session_id", sessionID, "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections across sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// SessionCount returns the number of active connections for sessionID.
func (h *Hub) SessionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.sessionID]
	if !ok {
		set = make(map[*conn]struct{})
		h.sessions[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[c.sessionID]
	if _, ok := set[c]; !ok {
		return
	}
	c.cancel()
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.sessionID)
	}
	slog.Info("websocket disconnected", "session_id", c.sessionID)
}
