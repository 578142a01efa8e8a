// Package artifacts persists per-task research output to disk: the final
// task snapshot, its cited sources, and any captured screenshots. Layout is
// one directory per task under the configured root.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/port/cache"
)

const (
	taskFile       = "task.json"
	sourcesFile    = "sources.json"
	screenshotsDir = "screenshots"
	statsCacheKey  = "artifacts:stats"
)

// Stats summarizes what is on disk.
type Stats struct {
	Tasks       int   `json:"tasks"`
	Files       int   `json:"files"`
	Screenshots int   `json:"screenshots"`
	SizeBytes   int64 `json:"sizeBytes"`
}

// Store is the filesystem artifact store. Stats are served through the
// cache to keep repeated dashboard polls off the disk.
type Store struct {
	root  string
	cache cache.Cache
	ttl   time.Duration
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, c cache.Cache, statsTTL time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir %s: %w", dir, err)
	}
	return &Store{root: dir, cache: c, ttl: statsTTL}, nil
}

// taskDir validates taskID and returns its directory path. IDs containing
// path separators or traversal sequences are rejected before touching disk.
func (s *Store) taskDir(taskID string) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("task id is required: %w", domain.ErrValidation)
	}
	if strings.ContainsAny(taskID, `/\`) || strings.Contains(taskID, "..") || taskID[0] == '.' {
		return "", fmt.Errorf("task id %q is not a valid artifact key: %w", taskID, domain.ErrValidation)
	}
	return filepath.Join(s.root, taskID), nil
}

// SaveResult writes the terminal task snapshot and its citations.
func (s *Store) SaveResult(ctx context.Context, t task.Task) error {
	dir, err := s.taskDir(t.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	if err := writeJSONFile(filepath.Join(dir, taskFile), t); err != nil {
		return err
	}
	var citations []task.Citation
	if t.Result != nil {
		citations = t.Result.Citations
	}
	if err := writeJSONFile(filepath.Join(dir, sourcesFile), citations); err != nil {
		return err
	}

	s.invalidateStats(ctx)
	slog.Info("artifacts saved", "task_id", t.ID, "citations", len(citations))
	return nil
}

// SaveScreenshot appends a PNG under the task's screenshots directory and
// returns its path relative to the task directory.
func (s *Store) SaveScreenshot(ctx context.Context, taskID string, data []byte) (string, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return "", err
	}
	shotDir := filepath.Join(dir, screenshotsDir)
	if err := os.MkdirAll(shotDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshots dir: %w", err)
	}

	entries, err := os.ReadDir(shotDir)
	if err != nil {
		return "", fmt.Errorf("read screenshots dir: %w", err)
	}
	name := fmt.Sprintf("%03d.png", len(entries)+1)
	if err := os.WriteFile(filepath.Join(shotDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	s.invalidateStats(ctx)
	return filepath.Join(screenshotsDir, name), nil
}

// ScreenshotPath resolves a stored screenshot filename to its on-disk path.
// The filename must be a bare name inside the task's screenshots directory.
func (s *Store) ScreenshotPath(taskID, name string) (string, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || name[0] == '.' {
		return "", fmt.Errorf("screenshot name %q is not valid: %w", name, domain.ErrValidation)
	}
	path := filepath.Join(dir, screenshotsDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("screenshot %s for task %s: %w", name, taskID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("stat screenshot: %w", err)
	}
	return path, nil
}

// LoadResult reads back a stored task snapshot.
func (s *Store) LoadResult(taskID string) (*task.Task, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, taskFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifacts for task %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read task artifact: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task artifact: %w", err)
	}
	return &t, nil
}

// ListFiles returns the relative paths of every artifact stored for a task.
func (s *Store) ListFiles(taskID string) ([]string, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifacts for task %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return files, nil
}

// Delete removes everything stored for a task. Deleting a task with no
// artifacts is a no-op.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete artifacts for task %s: %w", taskID, err)
	}
	s.invalidateStats(ctx)
	return nil
}

// Stats walks the store and summarizes it, serving from cache within the TTL.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, statsCacheKey); err == nil && ok {
			var st Stats
			if err := json.Unmarshal(data, &st); err == nil {
				return &st, nil
			}
		}
	}

	st := &Stats{}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifacts root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st.Tasks++
		err := filepath.WalkDir(filepath.Join(s.root, e.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			st.Files++
			st.SizeBytes += info.Size()
			if strings.HasSuffix(path, ".png") {
				st.Screenshots++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk artifacts: %w", err)
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(st); err == nil {
			_ = s.cache.Set(ctx, statsCacheKey, data, s.ttl)
		}
	}
	return st, nil
}

func (s *Store) invalidateStats(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, statsCacheKey)
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
