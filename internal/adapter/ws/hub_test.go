package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub()

	hub.BroadcastEvent(context.Background(), EventTaskStatus, "t1", TaskStatusEvent{
		TaskID: "t1",
		Status: "completed",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", "t1", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel}
	hub.remove(c)
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ConnectionCount() != 1 {
		t.Fatalf("connections = %d, want 1", hub.ConnectionCount())
	}

	hub.BroadcastEvent(ctx, EventTaskStatus, "t1", TaskStatusEvent{TaskID: "t1", Status: "running"})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != EventTaskStatus || msg.TaskID != "t1" {
		t.Fatalf("envelope = %+v", msg)
	}
	var ev TaskStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.TaskID != "t1" || ev.Status != "running" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHubSubscriptionFiltersTasks(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","taskId":"t1"}`)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Let the hub's read loop apply the subscription.
	waitSubscribed(t, hub, "t1")

	// An event for another task must be filtered out; the subscribed one
	// arrives next on the socket.
	hub.BroadcastEvent(ctx, EventTaskStatus, "t2", TaskStatusEvent{TaskID: "t2", Status: "running"})
	hub.BroadcastEvent(ctx, EventTaskStatus, "t1", TaskStatusEvent{TaskID: "t1", Status: "completed"})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.TaskID != "t1" {
		t.Fatalf("received event for %q, want the subscribed task only", msg.TaskID)
	}

	// Global events (no task) always pass the filter.
	hub.BroadcastEvent(ctx, EventBrowser, "", BrowserSessionEvent{TaskID: "t9", Action: "created"})
	_, data, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("read global: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != EventBrowser {
		t.Fatalf("type = %q, want %q", msg.Type, EventBrowser)
	}
}

// waitSubscribed blocks until some connection has taskID in its
// subscription set.
func waitSubscribed(t *testing.T, hub *Hub, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		for c := range hub.conns {
			c.mu.Lock()
			_, ok := c.tasks[taskID]
			c.mu.Unlock()
			if ok {
				hub.mu.RUnlock()
				return
			}
		}
		hub.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription never applied")
}

// stubSource serves scripted task snapshots.
type stubSource struct {
	mu   chan struct{}
	snap task.Task
	gone bool
}

func newStubSource(snap task.Task) *stubSource {
	s := &stubSource{mu: make(chan struct{}, 1), snap: snap}
	s.mu <- struct{}{}
	return s
}

func (s *stubSource) Get(id string) (*task.Task, error) {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	if s.gone || id != s.snap.ID {
		return nil, domain.ErrNotFound
	}
	snap := s.snap
	return &snap, nil
}

func (s *stubSource) set(mutate func(*task.Task)) {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	mutate(&s.snap)
}

func TestStreamHandlerEmitsTransitions(t *testing.T) {
	src := newStubSource(task.Task{ID: "t1", Status: task.StatusRunning})
	sh := NewStreamHandler(src, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh.HandleStream(w, r, "t1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// First frame: the current state.
	var msg Message
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var snap task.Task
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Status != task.StatusRunning {
		t.Fatalf("first frame status = %q, want running", snap.Status)
	}

	// Transition to terminal; the stream sends the final frame and closes.
	src.set(func(tk *task.Task) {
		tk.Status = task.StatusCompleted
		tk.Result = &task.Result{Answer: "done"}
	})

	_, data, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("read final frame: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Status != task.StatusCompleted || snap.Result == nil {
		t.Fatalf("final frame = %+v", snap)
	}

	// Socket closes after the terminal frame.
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected close after terminal frame")
	}
}

func TestStreamHandlerUnknownTask(t *testing.T) {
	src := newStubSource(task.Task{ID: "t1", Status: task.StatusRunning})
	sh := NewStreamHandler(src, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh.HandleStream(w, r, "missing")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
