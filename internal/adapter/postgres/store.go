package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
)

// Store implements archive.Archiver using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveTerminal upserts a terminal task snapshot.
func (s *Store) SaveTerminal(ctx context.Context, t task.Task) error {
	var resultJSON []byte
	if t.Result != nil {
		var err error
		resultJSON, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, question, seed_url, max_depth, max_pages, time_budget_seconds,
		                    search_engine, max_results, safe_mode, same_domain_only, allow_external_links,
		                    status, created_at, started_at, completed_at, result, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error`,
		t.ID, t.Question, t.SeedURL, t.MaxDepth, t.MaxPages, t.TimeBudgetSeconds,
		t.SearchEngine, t.MaxResults, t.SafeMode, t.SameDomainOnly, t.AllowExternalLinks,
		string(t.Status), t.CreatedAt, t.StartedAt, t.CompletedAt, resultJSON, t.Error)
	if err != nil {
		return fmt.Errorf("archive task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns an archived task, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, question, seed_url, max_depth, max_pages, time_budget_seconds,
		        search_engine, max_results, safe_mode, same_domain_only, allow_external_links,
		        status, created_at, started_at, completed_at, result, error
		 FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("archived task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get archived task %s: %w", id, err)
	}
	return &t, nil
}

// List returns archived tasks most recent first plus the total count.
func (s *Store) List(ctx context.Context, offset, limit int) ([]task.Task, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count archived tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, question, seed_url, max_depth, max_pages, time_budget_seconds,
		        search_engine, max_results, safe_mode, same_domain_only, allow_external_links,
		        status, created_at, started_at, completed_at, result, error
		 FROM tasks ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan archived task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// Delete removes an archived task. Deleting an unknown task is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete archived task %s: %w", id, err)
	}
	return nil
}

// scannable abstracts pgx.Row and pgx.Rows for the shared scan helper.
type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t          task.Task
		status     string
		resultJSON []byte
	)
	err := row.Scan(&t.ID, &t.Question, &t.SeedURL, &t.MaxDepth, &t.MaxPages, &t.TimeBudgetSeconds,
		&t.SearchEngine, &t.MaxResults, &t.SafeMode, &t.SameDomainOnly, &t.AllowExternalLinks,
		&status, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &resultJSON, &t.Error)
	if err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	if len(resultJSON) > 0 {
		t.Result = &task.Result{}
		if err := json.Unmarshal(resultJSON, t.Result); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return t, nil
}
