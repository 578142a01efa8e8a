// Package archive defines the port for durable storage of finished tasks.
// The in-memory registry is authoritative for live tasks; the archive keeps
// terminal ones queryable across restarts.
package archive

import (
	"context"

	"github.com/Strob0t/WebScout/internal/domain/task"
)

// Archiver persists terminal task snapshots.
type Archiver interface {
	// SaveTerminal upserts a terminal task snapshot.
	SaveTerminal(ctx context.Context, t task.Task) error
	// Get returns an archived task, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*task.Task, error)
	// List returns archived tasks most recent first.
	List(ctx context.Context, offset, limit int) ([]task.Task, int, error)
	// Delete removes an archived task. Deleting an unknown task is a no-op.
	Delete(ctx context.Context, id string) error
}
