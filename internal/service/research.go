// Package service contains the application services that tie the scheduler,
// browser, agent client, and storage together.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/WebScout/internal/adapter/agent"
	wsotel "github.com/Strob0t/WebScout/internal/adapter/otel"
	"github.com/Strob0t/WebScout/internal/artifacts"
	"github.com/Strob0t/WebScout/internal/browser"
	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/port/archive"
	"github.com/Strob0t/WebScout/internal/port/broadcast"
	"github.com/Strob0t/WebScout/internal/ratelimit"
	"github.com/Strob0t/WebScout/internal/scheduler"
)

// Orchestrator is the slice of the agent client the research service needs.
type Orchestrator interface {
	ExecuteResearch(ctx context.Context, t task.Task) (*agent.ResearchResponse, error)
	StreamProgress(ctx context.Context, taskID string, fn func(agent.ProgressEvent))
}

// Research owns the task lifecycle end to end: it accepts research
// questions, schedules them, drives the agent orchestrator, and persists
// results. One instance per process.
type Research struct {
	sched   *scheduler.Scheduler
	agent   Orchestrator
	browser *browser.Manager
	limiter *ratelimit.Limiter
	store   *artifacts.Store
	hub     broadcast.Broadcaster
	arch    archive.Archiver // nil when the archive is disabled
	metrics *wsotel.Metrics  // nil when telemetry is disabled
}

// SetMetrics attaches metric instruments. Call before serving traffic.
func (s *Research) SetMetrics(m *wsotel.Metrics) { s.metrics = m }

// NewResearch wires a Research service. arch may be nil.
func NewResearch(
	cfg config.Scheduler,
	orch Orchestrator,
	mgr *browser.Manager,
	limiter *ratelimit.Limiter,
	store *artifacts.Store,
	hub broadcast.Broadcaster,
	arch archive.Archiver,
) *Research {
	s := &Research{
		agent:   orch,
		browser: mgr,
		limiter: limiter,
		store:   store,
		hub:     hub,
		arch:    arch,
	}
	s.sched = scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		DefaultBudget: cfg.DefaultBudget,
		PollInterval:  cfg.PollInterval,
		OnTransition:  s.onTransition,
	})
	return s
}

// Create validates the request, registers the task, and starts executing it
// in the background. The returned snapshot is the task as created.
func (s *Research) Create(req task.CreateRequest) (task.Task, error) {
	if err := req.Validate(); err != nil {
		return task.Task{}, err
	}

	t := s.sched.Submit(req)
	if s.metrics != nil {
		s.metrics.TasksSubmitted.Add(context.Background(), 1)
	}
	go func() {
		if err := s.sched.Execute(context.Background(), t.ID, s.execute); err != nil {
			slog.Error("task execution setup failed", "task_id", t.ID, "error", err)
		}
	}()
	return t, nil
}

// execute is the scheduler executor: it drives one task through the agent
// orchestrator. The browser session opened for the task is cleaned up on
// every exit path, including timeout and cancellation.
func (s *Research) execute(ctx context.Context, t task.Task) (*task.Result, error) {
	ctx, span := wsotel.StartTaskSpan(ctx, t.ID, t.SearchEngine)
	defer span.End()
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		s.browser.Cleanup(cleanupCtx, t.ID)
	}()

	if t.SeedURL != "" {
		dom, err := ratelimit.DomainOf(t.SeedURL)
		if err != nil {
			return nil, fmt.Errorf("seed url: %w", err)
		}
		if err := s.limiter.AwaitSlot(ctx, dom); err != nil {
			return nil, err
		}
	}

	// Relay agent progress to connected clients for the task's duration.
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	go s.agent.StreamProgress(streamCtx, t.ID, func(ev agent.ProgressEvent) {
		s.hub.BroadcastEvent(streamCtx, "task.progress", t.ID, map[string]string{
			"taskId":  t.ID,
			"stage":   ev.Stage,
			"message": ev.Message,
			"url":     ev.URL,
		})
	})

	agentCtx, agentSpan := wsotel.StartAgentCallSpan(ctx, t.ID)
	if s.metrics != nil {
		s.metrics.AgentCalls.Add(agentCtx, 1)
	}
	resp, err := s.agent.ExecuteResearch(agentCtx, t)
	agentSpan.End()
	if err != nil {
		return nil, err
	}

	res := &task.Result{
		Answer:    resp.Answer,
		Citations: resp.Citations,
		Metadata:  resp.Metadata,
	}
	for _, png := range resp.Screenshots {
		path, err := s.store.SaveScreenshot(ctx, t.ID, png)
		if err != nil {
			slog.Warn("persist screenshot", "task_id", t.ID, "error", err)
			continue
		}
		res.Screenshots = append(res.Screenshots, path)
	}
	return res, nil
}

// onTransition broadcasts every status change and persists terminal
// snapshots. Persistence runs detached so a slow disk or database never
// blocks the scheduler.
func (s *Research) onTransition(snap task.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.hub.BroadcastEvent(ctx, "task.status", snap.ID, map[string]string{
		"taskId": snap.ID,
		"status": string(snap.Status),
		"error":  snap.Error,
	})

	if !snap.Status.Terminal() {
		return
	}
	if s.metrics != nil {
		switch snap.Status {
		case task.StatusCompleted:
			s.metrics.TasksCompleted.Add(ctx, 1)
		case task.StatusFailed:
			s.metrics.TasksFailed.Add(ctx, 1)
		case task.StatusCancelled:
			s.metrics.TasksCancelled.Add(ctx, 1)
		}
		if secs, ok := snap.Duration(); ok {
			s.metrics.TaskDuration.Record(ctx, secs)
		}
	}
	go func() {
		pctx, pcancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer pcancel()
		if err := s.store.SaveResult(pctx, snap); err != nil {
			slog.Error("persist task artifacts", "task_id", snap.ID, "error", err)
		}
		if s.arch != nil {
			if err := s.arch.SaveTerminal(pctx, snap); err != nil {
				slog.Error("archive task", "task_id", snap.ID, "error", err)
			}
		}
	}()
}

// Get returns a task snapshot.
func (s *Research) Get(id string) (*task.Task, error) {
	return s.sched.Get(id)
}

// List returns task snapshots most recent first plus the total count.
func (s *Research) List(offset, limit int) ([]task.Task, int) {
	return s.sched.List(offset, limit)
}

// Cancel stops a task with the given reason.
func (s *Research) Cancel(id string, req task.CancelRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return s.sched.Cancel(id, req.Reason)
}

// Delete cancels the task if needed and removes it with its artifacts.
func (s *Research) Delete(ctx context.Context, id string) (bool, error) {
	removed := s.sched.Delete(id)
	if !removed {
		return false, nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		slog.Warn("delete task artifacts", "task_id", id, "error", err)
	}
	if s.arch != nil {
		if err := s.arch.Delete(ctx, id); err != nil {
			slog.Warn("delete archived task", "task_id", id, "error", err)
		}
	}
	return true, nil
}

// Counts returns (active, total) task counts for health reporting.
func (s *Research) Counts() (int, int) {
	return s.sched.ActiveCount(), s.sched.TotalCount()
}
