// Package ws implements the WebSocket adapter that pushes swarm events to
// connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/bsvalues/TerraBuild-sub001/internal/port/broadcast"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// SnapshotFunc returns the payload of the swarm.status message sent to every
// client right after it connects.
type SnapshotFunc func() any

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*conn]struct{}
	origins  []string
	snapshot SnapshotFunc
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub creates a new WebSocket hub. origins are host patterns accepted in
// the Origin header besides the request host; snapshot may be nil.
func NewHub(origins []string, snapshot SnapshotFunc) *Hub {
	return &Hub{
		conns:    make(map[*conn]struct{}),
		origins:  origins,
		snapshot: snapshot,
	}
}

// HandleWS upgrades the request to a WebSocket connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}

	if h.snapshot != nil {
		if data, err := encode(broadcast.EventSwarmStatus, h.snapshot()); err == nil {
			if err := write(ctx, c, data); err != nil {
				cancel()
				_ = ws.Close(websocket.StatusInternalError, "snapshot failed")
				return
			}
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop detects disconnects; clients never send anything meaningful.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to all connected clients. Clients whose write
// fails are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := write(ctx, c, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: data})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()
	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}

func encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: eventType, Payload: raw})
}

func write(ctx context.Context, c *conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}
