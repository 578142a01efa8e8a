// Package ws implements the WebSocket surface: a hub that fans task
// lifecycle and progress events out to connected clients, and a per-task
// status stream.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for every frame the hub sends. TaskID names the
// subject task so both the hub and clients can filter without decoding the
// payload; global events carry no TaskID.
type Message struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"taskId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// subscription is the one kind of frame a client may send back: narrowing
// its feed to specific tasks, or widening it again.
type subscription struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	TaskID string `json:"taskId"`
}

// conn wraps a single WebSocket connection and its task subscriptions.
// A connection with no subscriptions receives every event.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]struct{}
}

func (c *conn) wants(taskID string) bool {
	if taskID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return true
	}
	_, ok := c.tasks[taskID]
	return ok
}

func (c *conn) apply(sub subscription) {
	if sub.TaskID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Action {
	case "subscribe":
		c.tasks[sub.TaskID] = struct{}{}
	case "unsubscribe":
		delete(c.tasks, sub.TaskID)
	}
}

// Hub manages all active WebSocket connections and routes task events to
// the clients watching them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the connection and serves the task event feed. The read
// loop consumes subscription frames; anything unparseable is ignored.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, tasks: make(map[string]struct{})}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("event feed connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var sub subscription
			if err := json.Unmarshal(data, &sub); err != nil {
				slog.Debug("malformed subscription frame", "error", err)
				continue
			}
			c.apply(sub)
		}
	}()
}

// Broadcast delivers msg to every connection watching its task.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !c.wants(msg.TaskID) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("event feed write failed", "type", msg.Type, "task_id", msg.TaskID, "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("event feed disconnected")
	}
}
