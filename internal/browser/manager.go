// Package browser manages per-task browser isolation: each task gets its own
// browsing context and page, created lazily on first use and torn down when
// the task finishes. Contexts never leak state between tasks.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/WebScout/internal/port/engine"
)

// DefaultKey is the session key used for tool calls that arrive without a
// task ID. The default session shares the lifecycle rules of any other
// session but is only cleaned up on shutdown or by an explicit cleanup call.
const DefaultKey = "default"

// session pairs a task's isolated context with its page.
type session struct {
	bctx engine.BrowserContext
	page engine.Page
}

// Manager owns the task-to-session registry. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	eng      engine.Engine
	sessions map[string]*session
}

// NewManager creates a Manager on top of eng. No browser work happens until
// the first Handle call.
func NewManager(eng engine.Engine) *Manager {
	return &Manager{
		eng:      eng,
		sessions: make(map[string]*session),
	}
}

// Handle returns the page for taskID, creating the isolated context and page
// on first use. An empty taskID maps to the default session.
func (m *Manager) Handle(ctx context.Context, taskID string) (engine.Page, error) {
	if taskID == "" {
		taskID = DefaultKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[taskID]; ok {
		return s.page, nil
	}

	bctx, err := m.eng.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("create browser context for task %s: %w", taskID, err)
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		// Don't leak the context when the page fails.
		if cerr := bctx.Close(ctx); cerr != nil {
			slog.Warn("closing context after page failure", "task_id", taskID, "error", cerr)
		}
		return nil, fmt.Errorf("create page for task %s: %w", taskID, err)
	}

	m.sessions[taskID] = &session{bctx: bctx, page: page}
	slog.Info("browser session created", "task_id", taskID)
	return page, nil
}

// Cleanup tears down the session for taskID: page first, then context. Close
// errors are logged and swallowed, and the registry entry is removed
// regardless, so a half-broken session can never wedge the manager. Cleanup
// of an unknown task is a no-op.
func (m *Manager) Cleanup(ctx context.Context, taskID string) {
	if taskID == "" {
		taskID = DefaultKey
	}

	m.mu.Lock()
	s, ok := m.sessions[taskID]
	delete(m.sessions, taskID)
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := s.page.Close(ctx); err != nil {
		slog.Warn("closing page", "task_id", taskID, "error", err)
	}
	if err := s.bctx.Close(ctx); err != nil {
		slog.Warn("closing browser context", "task_id", taskID, "error", err)
	}
	slog.Info("browser session cleaned up", "task_id", taskID)
}

// SessionCount returns the number of live sessions, the default one
// included.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ShutdownAll tears down every session and then the engine itself. Sessions
// close concurrently; each closes its page before its context. Errors are
// logged, and engine shutdown proceeds regardless.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	var g errgroup.Group
	for id, s := range sessions {
		g.Go(func() error {
			if err := s.page.Close(ctx); err != nil {
				slog.Warn("closing page on shutdown", "task_id", id, "error", err)
			}
			if err := s.bctx.Close(ctx); err != nil {
				slog.Warn("closing browser context on shutdown", "task_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := m.eng.Close(ctx); err != nil {
		return fmt.Errorf("close browser engine: %w", err)
	}
	slog.Info("browser engine shut down", "sessions_closed", len(sessions))
	return nil
}
