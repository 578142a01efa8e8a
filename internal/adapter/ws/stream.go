package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
)

// TaskSource yields task snapshots for streaming.
type TaskSource interface {
	Get(id string) (*task.Task, error)
}

// StreamHandler streams one task's lifecycle over a WebSocket by polling the
// registry: a frame is sent whenever the observed status changes, and the
// final frame carries the full terminal snapshot before the socket closes.
type StreamHandler struct {
	tasks    TaskSource
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler polling at the given interval.
func NewStreamHandler(tasks TaskSource, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamHandler{tasks: tasks, interval: interval}
}

// HandleStream upgrades the request and streams status frames for taskID
// until the task reaches a terminal state or the client disconnects.
func (s *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, err := s.tasks.Get(taskID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, "task not found", status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("stream accept failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastStatus task.Status
	for {
		snap, err := s.tasks.Get(taskID)
		if err != nil {
			// Deleted mid-stream.
			_ = conn.Close(websocket.StatusGoingAway, "task deleted")
			return
		}
		if snap.Status != lastStatus {
			lastStatus = snap.Status
			if err := s.send(ctx, conn, snap); err != nil {
				return
			}
			if snap.Status.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *StreamHandler) send(ctx context.Context, conn *websocket.Conn, snap *task.Task) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{Type: EventTaskStatus, TaskID: snap.ID, Payload: payload})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
