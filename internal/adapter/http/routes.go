package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/WebScout/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", h.Health)
	r.Get("/healthz", h.Health)
	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
		r.Get("/tasks/{id}/stream", h.StreamTask)
		r.Get("/tasks/{id}/artifacts", h.ListTaskArtifacts)
		r.Get("/tasks/{id}/screenshots/{file}", h.GetScreenshot)

		// Archived (terminal) tasks, durable across restarts.
		r.Get("/archive/tasks", h.ListArchivedTasks)
		r.Get("/archive/tasks/{id}", h.GetArchivedTask)

		// Artifacts
		r.Get("/artifacts/stats", h.ArtifactStats)
	})

	// Browser tool surface, called by the research agent during a run.
	r.Route("/tools/v1", func(r chi.Router) {
		r.Post("/navigate", h.Navigate)
		r.Post("/extract-text", h.ExtractText)
		r.Post("/extract-links", h.ExtractLinks)
		r.Post("/screenshot", h.Screenshot)
		r.Post("/cleanup", h.CleanupSession)
	})
}
