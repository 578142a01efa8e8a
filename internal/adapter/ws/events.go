package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus   = "task.status"
	EventTaskProgress = "task.progress"
	EventBrowser      = "browser.session"
)

// TaskStatusEvent is broadcast when a task changes lifecycle state.
type TaskStatusEvent struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// TaskProgressEvent relays a progress update from the research agent.
type TaskProgressEvent struct {
	TaskID  string `json:"taskId"`
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// BrowserSessionEvent is broadcast when a browser session is created or
// cleaned up.
type BrowserSessionEvent struct {
	TaskID string `json:"taskId"`
	Action string `json:"action"` // "created" or "cleaned"
}

// BroadcastEvent marshals a typed event and routes it to the clients
// watching taskID. An empty taskID broadcasts to everyone.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType, taskID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "task_id", taskID, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		TaskID:  taskID,
		Payload: json.RawMessage(data),
	})
}
