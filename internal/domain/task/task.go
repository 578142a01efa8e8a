// Package task defines the research Task domain entity.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusCreated   Status = "created"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is absorbing: once a task reaches a
// terminal status it never transitions again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a point-in-time snapshot of one research request. The scheduler
// owns the mutable record; everything handed out through its API is a copy.
type Task struct {
	ID                 string     `json:"taskId"`
	Question           string     `json:"question"`
	SeedURL            string     `json:"seedUrl,omitempty"`
	MaxDepth           int        `json:"maxDepth"`
	MaxPages           int        `json:"maxPages"`
	TimeBudgetSeconds  int        `json:"timeBudgetSeconds"`
	SearchEngine       string     `json:"searchEngine"`
	MaxResults         int        `json:"maxResults"`
	SafeMode           bool       `json:"safeMode"`
	SameDomainOnly     bool       `json:"sameDomainOnly"`
	AllowExternalLinks bool       `json:"allowExternalLinks"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	Result             *Result    `json:"result,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// Budget returns the task's time budget as a duration.
func (t *Task) Budget() time.Duration {
	return time.Duration(t.TimeBudgetSeconds) * time.Second
}

// Duration returns the wall-clock execution time in seconds. It is defined
// only when both the started and completed timestamps are set.
func (t *Task) Duration() (float64, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt).Seconds(), true
}

// Result holds the outcome of a completed task.
type Result struct {
	Answer      string         `json:"answer"`
	Citations   []Citation     `json:"citations,omitempty"`
	Screenshots []string       `json:"screenshots,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Citation is a source reference backing part of an answer.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt,omitempty"`
}
