package task

import (
	"fmt"

	"github.com/Strob0t/WebScout/internal/domain"
)

// Field range limits for task creation. Validation happens at the API edge;
// the scheduler itself never rejects a task on parameter grounds.
const (
	MaxQuestionLen  = 1000
	MinDepth        = 1
	MaxDepth        = 5
	MinPages        = 1
	MaxPages        = 50
	MinBudgetSec    = 30
	MaxBudgetSec    = 600
	MinResults      = 1
	MaxResults      = 50
	MaxReasonLen    = 200
	DefaultEngine   = "duckduckgo"
	DefaultDepth    = 3
	DefaultPages    = 20
	DefaultBudget   = 120
	DefaultResults  = 10
)

// validEngines enumerates the supported search engines.
var validEngines = map[string]bool{
	"duckduckgo": true,
	"bing":       true,
	"google":     true,
	"custom":     true,
}

// CreateRequest holds the fields needed to create a new task. Pointer fields
// distinguish "omitted" from zero so defaults can be applied.
type CreateRequest struct {
	Question           string `json:"question"`
	SeedURL            string `json:"seedUrl,omitempty"`
	MaxDepth           *int   `json:"maxDepth,omitempty"`
	MaxPages           *int   `json:"maxPages,omitempty"`
	TimeBudgetSeconds  *int   `json:"timeBudgetSeconds,omitempty"`
	SearchEngine       string `json:"searchEngine,omitempty"`
	MaxResults         *int   `json:"maxResults,omitempty"`
	SafeMode           *bool  `json:"safeMode,omitempty"`
	SameDomainOnly     bool   `json:"sameDomainOnly,omitempty"`
	AllowExternalLinks *bool  `json:"allowExternalLinks,omitempty"`
}

// CancelRequest holds an optional human-supplied cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Validate checks that all provided fields are within range.
func (r *CreateRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("question is required: %w", domain.ErrValidation)
	}
	if len(r.Question) > MaxQuestionLen {
		return fmt.Errorf("question exceeds %d characters: %w", MaxQuestionLen, domain.ErrValidation)
	}
	if r.MaxDepth != nil && (*r.MaxDepth < MinDepth || *r.MaxDepth > MaxDepth) {
		return fmt.Errorf("maxDepth must be between %d and %d: %w", MinDepth, MaxDepth, domain.ErrValidation)
	}
	if r.MaxPages != nil && (*r.MaxPages < MinPages || *r.MaxPages > MaxPages) {
		return fmt.Errorf("maxPages must be between %d and %d: %w", MinPages, MaxPages, domain.ErrValidation)
	}
	if r.TimeBudgetSeconds != nil && (*r.TimeBudgetSeconds < MinBudgetSec || *r.TimeBudgetSeconds > MaxBudgetSec) {
		return fmt.Errorf("timeBudgetSeconds must be between %d and %d: %w", MinBudgetSec, MaxBudgetSec, domain.ErrValidation)
	}
	if r.SearchEngine != "" && !validEngines[r.SearchEngine] {
		return fmt.Errorf("invalid searchEngine %q: %w", r.SearchEngine, domain.ErrValidation)
	}
	if r.MaxResults != nil && (*r.MaxResults < MinResults || *r.MaxResults > MaxResults) {
		return fmt.Errorf("maxResults must be between %d and %d: %w", MinResults, MaxResults, domain.ErrValidation)
	}
	return nil
}

// Validate checks the cancellation reason length.
func (r *CancelRequest) Validate() error {
	if len(r.Reason) > MaxReasonLen {
		return fmt.Errorf("reason exceeds %d characters: %w", MaxReasonLen, domain.ErrValidation)
	}
	return nil
}

// New builds a Task from a validated request, filling in defaults for
// omitted fields. Identity fields are fixed here and never change afterwards.
func New(id string, req CreateRequest) Task {
	t := Task{
		ID:                 id,
		Question:           req.Question,
		SeedURL:            req.SeedURL,
		MaxDepth:           DefaultDepth,
		MaxPages:           DefaultPages,
		TimeBudgetSeconds:  DefaultBudget,
		SearchEngine:       DefaultEngine,
		MaxResults:         DefaultResults,
		SafeMode:           true,
		SameDomainOnly:     req.SameDomainOnly,
		AllowExternalLinks: true,
		Status:             StatusCreated,
	}
	if req.MaxDepth != nil {
		t.MaxDepth = *req.MaxDepth
	}
	if req.MaxPages != nil {
		t.MaxPages = *req.MaxPages
	}
	if req.TimeBudgetSeconds != nil {
		t.TimeBudgetSeconds = *req.TimeBudgetSeconds
	}
	if req.SearchEngine != "" {
		t.SearchEngine = req.SearchEngine
	}
	if req.MaxResults != nil {
		t.MaxResults = *req.MaxResults
	}
	if req.SafeMode != nil {
		t.SafeMode = *req.SafeMode
	}
	if req.AllowExternalLinks != nil {
		t.AllowExternalLinks = *req.AllowExternalLinks
	}
	return t
}
