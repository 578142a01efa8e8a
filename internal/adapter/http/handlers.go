package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/Strob0t/WebScout/internal/adapter/ws"
	"github.com/Strob0t/WebScout/internal/artifacts"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/port/archive"
	"github.com/Strob0t/WebScout/internal/service"
)

// AgentProbe checks whether the research agent is reachable and exposes
// its circuit breaker position.
type AgentProbe interface {
	Health(ctx context.Context) error
	BreakerState() string
}

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	research *service.Research
	tools    *service.Tools
	store    *artifacts.Store
	stream   *ws.StreamHandler
	arch     archive.Archiver
	probe    AgentProbe
	started  time.Time
}

// NewHandlers creates the handler set. probe may be nil; arch may be nil
// when the archive is disabled, and its routes then answer 503.
func NewHandlers(research *service.Research, tools *service.Tools, store *artifacts.Store, stream *ws.StreamHandler, arch archive.Archiver, probe AgentProbe) *Handlers {
	return &Handlers{
		research: research,
		tools:    tools,
		store:    store,
		stream:   stream,
		arch:     arch,
		probe:    probe,
		started:  time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Task lifecycle
// ---------------------------------------------------------------------------

// CreateTask handles POST /api/v1/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}

	t, err := h.research.Create(req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type taskListResponse struct {
	Tasks []task.Task `json:"tasks"`
	Total int         `json:"total"`
}

// ListTasks handles GET /api/v1/tasks?offset=&limit=.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	tasks, total := h.research.List(offset, limit)
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, Total: total})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.research.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	var req task.CancelRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = readJSON[task.CancelRequest](w, r); !ok {
			return
		}
	}

	id := urlParam(r, "id")
	if err := h.research.Cancel(id, req); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	t, err := h.research.Get(id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	removed, err := h.research.Delete(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamTask handles GET /api/v1/tasks/{id}/stream (WebSocket).
func (h *Handlers) StreamTask(w http.ResponseWriter, r *http.Request) {
	h.stream.HandleStream(w, r, urlParam(r, "id"))
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

// ListArchivedTasks handles GET /api/v1/archive/tasks?offset=&limit=.
func (h *Handlers) ListArchivedTasks(w http.ResponseWriter, r *http.Request) {
	if h.arch == nil {
		writeError(w, http.StatusServiceUnavailable, "task archive not enabled")
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	tasks, total, err := h.arch.List(r.Context(), offset, limit)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, Total: total})
}

// GetArchivedTask handles GET /api/v1/archive/tasks/{id}.
func (h *Handlers) GetArchivedTask(w http.ResponseWriter, r *http.Request) {
	if h.arch == nil {
		writeError(w, http.StatusServiceUnavailable, "task archive not enabled")
		return
	}
	t, err := h.arch.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

type artifactListResponse struct {
	TaskID string   `json:"taskId"`
	Files  []string `json:"files"`
}

// ListTaskArtifacts handles GET /api/v1/tasks/{id}/artifacts.
func (h *Handlers) ListTaskArtifacts(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	files, err := h.store.ListFiles(id)
	if err != nil {
		writeDomainError(w, err, "artifacts not found")
		return
	}
	writeJSON(w, http.StatusOK, artifactListResponse{TaskID: id, Files: files})
}

// GetScreenshot handles GET /api/v1/tasks/{id}/screenshots/{file}.
func (h *Handlers) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	path, err := h.store.ScreenshotPath(urlParam(r, "id"), urlParam(r, "file"))
	if err != nil {
		writeDomainError(w, err, "screenshot not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// ArtifactStats handles GET /api/v1/artifacts/stats.
func (h *Handlers) ArtifactStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err, "artifacts not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Browser tools
// ---------------------------------------------------------------------------

type navigateRequest struct {
	TaskID string `json:"taskId"`
	URL    string `json:"url"`
}

// Navigate handles POST /tools/v1/navigate.
func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[navigateRequest](w, r)
	if !ok {
		return
	}

	info, err := h.tools.Navigate(r.Context(), req.TaskID, req.URL)
	if err != nil {
		writeDomainError(w, err, "navigation failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type sessionRequest struct {
	TaskID string `json:"taskId"`
}

// ExtractText handles POST /tools/v1/extract-text.
func (h *Handlers) ExtractText(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sessionRequest](w, r)
	if !ok {
		return
	}

	text, err := h.tools.ExtractText(r.Context(), req.TaskID)
	if err != nil {
		writeDomainError(w, err, "extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// ExtractLinks handles POST /tools/v1/extract-links.
func (h *Handlers) ExtractLinks(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sessionRequest](w, r)
	if !ok {
		return
	}

	links, err := h.tools.ExtractLinks(r.Context(), req.TaskID)
	if err != nil {
		writeDomainError(w, err, "extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

type screenshotRequest struct {
	TaskID   string `json:"taskId"`
	FullPage bool   `json:"fullPage"`
	Save     bool   `json:"save"`
}

type screenshotResponse struct {
	Data string `json:"data"` // base64 PNG
	Path string `json:"path,omitempty"`
}

// Screenshot handles POST /tools/v1/screenshot.
func (h *Handlers) Screenshot(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[screenshotRequest](w, r)
	if !ok {
		return
	}

	data, path, err := h.tools.Screenshot(r.Context(), req.TaskID, req.FullPage, req.Save)
	if err != nil {
		writeDomainError(w, err, "screenshot failed")
		return
	}
	writeJSON(w, http.StatusOK, screenshotResponse{
		Data: base64.StdEncoding.EncodeToString(data),
		Path: path,
	})
}

// CleanupSession handles POST /tools/v1/cleanup.
func (h *Handlers) CleanupSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sessionRequest](w, r)
	if !ok {
		return
	}

	h.tools.Cleanup(r.Context(), req.TaskID)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status        string `json:"status"`
	ActiveTasks   int    `json:"activeTasks"`
	TotalTasks    int    `json:"totalTasks"`
	Sessions      int    `json:"sessions"`
	Agent         string `json:"agent"`
	AgentBreaker  string `json:"agentBreaker,omitempty"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	active, total := h.research.Counts()

	agentStatus := "unknown"
	breakerState := ""
	if h.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.probe.Health(ctx); err != nil {
			agentStatus = "unreachable"
		} else {
			agentStatus = "ok"
		}
		breakerState = h.probe.BreakerState()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		ActiveTasks:   active,
		TotalTasks:    total,
		Sessions:      h.tools.SessionCount(),
		Agent:         agentStatus,
		AgentBreaker:  breakerState,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
