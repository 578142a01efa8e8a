// Package scheduler implements the task lifecycle core: a concurrency-bounded
// registry of research tasks with queueing, deadline, and cancellation
// semantics. The scheduler is resource-agnostic; everything a task actually
// does happens inside the executor callback supplied by the caller.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
)

// Executor runs one task. It receives a snapshot of the task at start time
// and returns the result, or an error that becomes the task's failure
// message. It must honor ctx: the scheduler cancels it on timeout and on
// explicit cancellation, and abandons it once ctx is done.
type Executor func(ctx context.Context, t task.Task) (*task.Result, error)

// errCancelled is the cancellation cause used to distinguish explicit
// cancellation from a deadline expiry.
var errCancelled = errors.New("task cancelled")

// Config holds scheduler tuning parameters.
type Config struct {
	// MaxConcurrent is the concurrency ceiling: the maximum number of tasks
	// in running state at any instant.
	MaxConcurrent int
	// DefaultBudget bounds execution when a task carries no time budget.
	DefaultBudget time.Duration
	// PollInterval is how often a queued task re-checks for a free slot.
	PollInterval time.Duration
	// OnTransition, when set, is invoked with a snapshot after every status
	// change. Called outside the scheduler lock.
	OnTransition func(task.Task)
}

// record is the scheduler-owned mutable state for one task.
type record struct {
	t      task.Task
	seq    uint64
	cancel context.CancelCauseFunc // set while the executor is in flight
}

// Scheduler owns the task registry and enforces the concurrency ceiling.
// All state is instance state so independent schedulers (one per test, for
// example) never interfere.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*record
	running int
	nextSeq uint64
	cfg     Config
}

// New creates a Scheduler. Zero or negative config values fall back to
// MaxConcurrent 3, a 5 minute default budget, and a 1 second poll interval.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Scheduler{
		tasks: make(map[string]*record),
		cfg:   cfg,
	}
}

// Submit registers a new task in created state and returns its snapshot.
// It never blocks on execution.
func (s *Scheduler) Submit(req task.CreateRequest) task.Task {
	t := task.New(uuid.NewString(), req)
	t.CreatedAt = time.Now()

	s.mu.Lock()
	s.nextSeq++
	s.tasks[t.ID] = &record{t: t, seq: s.nextSeq}
	s.mu.Unlock()

	slog.Info("task created", "task_id", t.ID, "question", truncate(t.Question, 50))
	return t
}

// Execute runs the task through its lifecycle: wait for a concurrency slot
// (queued), run the executor under the task's time budget (running), and
// settle into exactly one terminal state. The running count is decremented
// exactly once regardless of the exit path.
func (s *Scheduler) Execute(ctx context.Context, id string, exec Executor) error {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	execCtx, ok := s.acquireSlot(ctx, rec)
	if !ok {
		// Cancelled while queued, or the caller's context died before a
		// slot freed. The task never entered running state.
		return nil
	}

	budget := rec.t.Budget()
	if budget <= 0 {
		budget = s.cfg.DefaultBudget
	}
	runCtx, cancelBudget := context.WithTimeout(execCtx, budget)
	defer cancelBudget()

	snapshot := rec.t

	type outcome struct {
		res *task.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runExecutor(runCtx, exec, snapshot)
		done <- outcome{res, err}
	}()

	var res *task.Result
	var execErr error
	select {
	case o := <-done:
		res, execErr = o.res, o.err
	case <-runCtx.Done():
		// Deadline or cancellation: abandon the executor. It has been
		// signalled through runCtx and is expected to unwind on its own;
		// the scheduler does not wait for it.
		execErr = context.Cause(runCtx)
	}

	s.settle(rec, res, execErr, runCtx)
	return nil
}

// acquireSlot transitions the task from created (via queued, if at capacity)
// to running. Returns false when the task was cancelled before a slot freed.
func (s *Scheduler) acquireSlot(ctx context.Context, rec *record) (context.Context, bool) {
	for {
		s.mu.Lock()
		if rec.t.Status.Terminal() {
			s.mu.Unlock()
			return nil, false
		}
		if s.running < s.cfg.MaxConcurrent {
			s.running++
			now := time.Now()
			rec.t.Status = task.StatusRunning
			rec.t.StartedAt = &now
			execCtx, cancel := context.WithCancelCause(ctx)
			rec.cancel = cancel
			snap := rec.t
			s.mu.Unlock()

			slog.Info("task started", "task_id", snap.ID)
			s.transition(snap)
			return execCtx, true
		}
		if rec.t.Status != task.StatusQueued {
			rec.t.Status = task.StatusQueued
			snap := rec.t
			s.mu.Unlock()
			slog.Info("task queued at capacity", "task_id", snap.ID)
			s.transition(snap)
		} else {
			s.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// settle records the terminal outcome of one execution and releases the
// concurrency slot.
func (s *Scheduler) settle(rec *record, res *task.Result, execErr error, runCtx context.Context) {
	s.mu.Lock()
	rec.cancel = nil
	s.running--

	switch {
	case rec.t.Status == task.StatusCancelled:
		// Cancel already set the terminal status and error; keep both.
	case errors.Is(context.Cause(runCtx), context.DeadlineExceeded):
		// Only the budget context decides the timeout branch. An executor
		// error that merely wraps a deadline from one of its own sub-calls
		// keeps its verbatim message below.
		rec.t.Status = task.StatusFailed
		rec.t.Error = fmt.Sprintf("task exceeded time budget (%ds)", rec.t.TimeBudgetSeconds)
	case execErr != nil:
		rec.t.Status = task.StatusFailed
		rec.t.Error = execErr.Error()
	default:
		rec.t.Status = task.StatusCompleted
		rec.t.Result = res
	}
	if rec.t.CompletedAt == nil {
		now := time.Now()
		rec.t.CompletedAt = &now
	}
	snap := rec.t
	s.mu.Unlock()

	switch snap.Status {
	case task.StatusCompleted:
		slog.Info("task completed", "task_id", snap.ID)
	case task.StatusCancelled:
		slog.Info("task cancelled", "task_id", snap.ID, "reason", snap.Error)
	default:
		slog.Error("task failed", "task_id", snap.ID, "error", snap.Error)
	}
	s.transition(snap)
}

// Cancel marks the task cancelled and signals its executor to stop.
// Cancelling an already-terminal task is a no-op. The reason (or a default
// message) is stored as the task's error.
func (s *Scheduler) Cancel(id, reason string) error {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if rec.t.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	now := time.Now()
	rec.t.Status = task.StatusCancelled
	rec.t.CompletedAt = &now
	rec.t.Error = reason
	cancel := rec.cancel
	snap := rec.t
	s.mu.Unlock()

	if cancel != nil {
		cancel(errCancelled)
	}
	slog.Info("cancelling task", "task_id", id, "reason", reason)
	s.transition(snap)
	return nil
}

// Get returns a snapshot of the task, or domain.ErrNotFound.
func (s *Scheduler) Get(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	snap := rec.t
	return &snap, nil
}

// List returns snapshots ordered by creation time descending (most recent
// first) sliced by offset/limit, plus the total registry size. Out-of-range
// offsets yield an empty slice with the correct total.
func (s *Scheduler) List(offset, limit int) ([]task.Task, int) {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.tasks))
	for _, rec := range s.tasks {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].t.CreatedAt.Equal(recs[j].t.CreatedAt) {
			return recs[i].seq > recs[j].seq
		}
		return recs[i].t.CreatedAt.After(recs[j].t.CreatedAt)
	})

	total := len(recs)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []task.Task{}, total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]task.Task, 0, end-offset)
	for _, rec := range recs[offset:end] {
		out = append(out, rec.t)
	}
	return out, total
}

// Delete cancels the task if it is not terminal, then removes it from the
// registry. Returns whether anything was removed.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var cancel context.CancelCauseFunc
	if !rec.t.Status.Terminal() {
		now := time.Now()
		rec.t.Status = task.StatusCancelled
		rec.t.CompletedAt = &now
		rec.t.Error = "task deleted"
		cancel = rec.cancel
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	if cancel != nil {
		cancel(errCancelled)
	}
	slog.Info("task deleted", "task_id", id)
	return true
}

// ActiveCount returns the number of tasks currently running.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TotalCount returns the registry size.
func (s *Scheduler) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// transition delivers a status-change snapshot to the configured hook.
func (s *Scheduler) transition(snap task.Task) {
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(snap)
	}
}

// runExecutor invokes the executor, converting a panic into an error so a
// misbehaving task cannot take the scheduler down with it.
func runExecutor(ctx context.Context, exec Executor, t task.Task) (res *task.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, t)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
