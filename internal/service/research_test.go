package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/WebScout/internal/adapter/agent"
	"github.com/Strob0t/WebScout/internal/artifacts"
	"github.com/Strob0t/WebScout/internal/browser"
	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/port/engine"
	"github.com/Strob0t/WebScout/internal/ratelimit"
)

// stubOrchestrator returns a canned response or error.
type stubOrchestrator struct {
	resp  *agent.ResearchResponse
	err   error
	block chan struct{} // when set, ExecuteResearch waits for ctx or close
}

func (o *stubOrchestrator) ExecuteResearch(ctx context.Context, t task.Task) (*agent.ResearchResponse, error) {
	if o.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.block:
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.resp, nil
}

func (o *stubOrchestrator) StreamProgress(ctx context.Context, taskID string, fn func(agent.ProgressEvent)) {
}

// recordingHub captures broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType, _ string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// nullEngine satisfies engine.Engine without doing anything.
type nullEngine struct{}

func (nullEngine) NewContext(context.Context) (engine.BrowserContext, error) {
	return nullContext{}, nil
}
func (nullEngine) Close(context.Context) error { return nil }

type nullContext struct{}

func (nullContext) NewPage(context.Context) (engine.Page, error) { return &nullPage{}, nil }
func (nullContext) Close(context.Context) error                  { return nil }

type nullPage struct{}

func (*nullPage) Navigate(context.Context, string) (*engine.PageInfo, error) {
	return &engine.PageInfo{}, nil
}
func (*nullPage) ExtractText(context.Context, int) (string, error)         { return "", nil }
func (*nullPage) ExtractLinks(context.Context, int) ([]engine.Link, error) { return nil, nil }
func (*nullPage) Screenshot(context.Context, bool) ([]byte, error)         { return nil, nil }
func (*nullPage) Close(context.Context) error                              { return nil }

func newResearch(t *testing.T, orch Orchestrator) (*Research, *recordingHub, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir(), nil, time.Minute)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	hub := &recordingHub{}
	svc := NewResearch(
		config.Scheduler{MaxConcurrent: 2, DefaultBudget: 5 * time.Second, PollInterval: 10 * time.Millisecond},
		orch,
		browser.NewManager(nullEngine{}),
		ratelimit.New(ratelimit.Config{Enabled: false}),
		store,
		hub,
		nil,
	)
	return svc, hub, store
}

func awaitTerminal(t *testing.T, svc *Research, id string) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	svc, _, _ := newResearch(t, &stubOrchestrator{})

	_, err := svc.Create(task.CreateRequest{Question: ""})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, total := svc.List(0, 0); total != 0 {
		t.Fatal("invalid request must not register a task")
	}
}

func TestCreateRunsToCompletion(t *testing.T) {
	orch := &stubOrchestrator{resp: &agent.ResearchResponse{
		Answer: "42",
		Citations: []task.Citation{
			{URL: "https://example.com", Title: "Example"},
		},
		Screenshots: [][]byte{[]byte("png-bytes")},
	}}
	svc, hub, store := newResearch(t, orch)

	created, err := svc.Create(task.CreateRequest{Question: "what is the answer"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != task.StatusCreated {
		t.Fatalf("initial status = %q", created.Status)
	}

	snap := awaitTerminal(t, svc, created.ID)
	if snap.Status != task.StatusCompleted {
		t.Fatalf("status = %q (%s)", snap.Status, snap.Error)
	}
	if snap.Result.Answer != "42" {
		t.Fatalf("answer = %q", snap.Result.Answer)
	}
	if len(snap.Result.Screenshots) != 1 || snap.Result.Screenshots[0] != "screenshots/001.png" {
		t.Fatalf("screenshots = %v", snap.Result.Screenshots)
	}
	if hub.count() == 0 {
		t.Fatal("expected status events on the hub")
	}

	// Terminal snapshot lands in the artifact store.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.LoadResult(created.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("artifacts never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentFailureBecomesTaskFailure(t *testing.T) {
	orch := &stubOrchestrator{err: errors.New("search engine unreachable")}
	svc, _, _ := newResearch(t, orch)

	created, err := svc.Create(task.CreateRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap := awaitTerminal(t, svc, created.ID)
	if snap.Status != task.StatusFailed {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Error != "search engine unreachable" {
		t.Fatalf("error = %q", snap.Error)
	}
}

func TestCancelRunningTask(t *testing.T) {
	orch := &stubOrchestrator{block: make(chan struct{})}
	defer close(orch.block)
	svc, _, _ := newResearch(t, orch)

	created, err := svc.Create(task.CreateRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, _ := svc.Get(created.ID)
		if snap.Status == task.StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := svc.Cancel(created.ID, task.CancelRequest{Reason: "changed my mind"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap := awaitTerminal(t, svc, created.ID)
	if snap.Status != task.StatusCancelled {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Error != "changed my mind" {
		t.Fatalf("error = %q", snap.Error)
	}
}

func TestCancelRejectsOverlongReason(t *testing.T) {
	svc, _, _ := newResearch(t, &stubOrchestrator{})
	long := make([]byte, task.MaxReasonLen+1)
	for i := range long {
		long[i] = 'x'
	}
	err := svc.Cancel("any", task.CancelRequest{Reason: string(long)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestDeleteRemovesTaskAndArtifacts(t *testing.T) {
	orch := &stubOrchestrator{resp: &agent.ResearchResponse{Answer: "a"}}
	svc, _, store := newResearch(t, orch)

	created, _ := svc.Create(task.CreateRequest{Question: "q"})
	awaitTerminal(t, svc, created.ID)

	// Wait for artifacts to land before deleting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.LoadResult(created.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("artifacts never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	removed, err := svc.Delete(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !removed {
		t.Fatal("Delete returned false")
	}
	if _, err := svc.Get(created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if _, err := store.LoadResult(created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("artifacts still present: %v", err)
	}

	removed, err = svc.Delete(context.Background(), created.ID)
	if err != nil || removed {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestCountsTrackActiveTasks(t *testing.T) {
	orch := &stubOrchestrator{block: make(chan struct{})}
	svc, _, _ := newResearch(t, orch)

	created, _ := svc.Create(task.CreateRequest{Question: "q"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if active, _ := svc.Counts(); active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("active count never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(orch.block)
	awaitTerminal(t, svc, created.ID)
	active, total := svc.Counts()
	if active != 0 || total != 1 {
		t.Fatalf("counts = (%d, %d), want (0, 1)", active, total)
	}
}
