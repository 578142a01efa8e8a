// Package agent is the HTTP/WebSocket client for the research agent
// orchestrator, the service that actually browses and synthesizes answers.
// All calls go through a circuit breaker so a dead orchestrator fails fast
// instead of stacking up timeouts.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/resilience"
)

// Client talks to the research agent orchestrator. Research calls run as
// long as the caller's context allows, so the task's time budget is the only
// deadline; the short configured timeout applies to health probes only.
type Client struct {
	base    string
	http    *http.Client
	probe   *http.Client
	breaker *resilience.Breaker
}

// NewClient creates a Client for the configured orchestrator endpoint.
func NewClient(cfg config.Agent, breaker *resilience.Breaker) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Transport: transport},
		probe:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breaker: breaker,
	}
}

// researchRequest is the payload sent to the orchestrator.
type researchRequest struct {
	TaskID             string `json:"taskId"`
	Question           string `json:"question"`
	SeedURL            string `json:"seedUrl,omitempty"`
	MaxDepth           int    `json:"maxDepth"`
	MaxPages           int    `json:"maxPages"`
	SearchEngine       string `json:"searchEngine"`
	MaxResults         int    `json:"maxResults"`
	SafeMode           bool   `json:"safeMode"`
	SameDomainOnly     bool   `json:"sameDomainOnly"`
	AllowExternalLinks bool   `json:"allowExternalLinks"`
}

// ResearchResponse is the orchestrator's answer. Screenshots arrive as raw
// PNG bytes (base64 on the wire) for the caller to persist.
type ResearchResponse struct {
	Answer      string          `json:"answer"`
	Citations   []task.Citation `json:"citations"`
	Screenshots [][]byte        `json:"screenshots"`
	Metadata    map[string]any  `json:"metadata"`
}

type errorBody struct {
	Error string `json:"error"`
}

// BreakerState reports the circuit breaker position for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// Health probes the orchestrator. A non-200 or transport failure counts
// against the breaker.
func (c *Client) Health(ctx context.Context) error {
	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := c.probe.Do(req)
		if err != nil {
			return fmt.Errorf("agent health: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("agent health: status %d", resp.StatusCode)
		}
		return nil
	})
}

// ExecuteResearch runs the full research flow for one task and blocks until
// the orchestrator answers or ctx expires. Orchestrator error messages come
// back verbatim so they can surface as the task's failure reason.
func (c *Client) ExecuteResearch(ctx context.Context, t task.Task) (*ResearchResponse, error) {
	payload := researchRequest{
		TaskID:             t.ID,
		Question:           t.Question,
		SeedURL:            t.SeedURL,
		MaxDepth:           t.MaxDepth,
		MaxPages:           t.MaxPages,
		SearchEngine:       t.SearchEngine,
		MaxResults:         t.MaxResults,
		SafeMode:           t.SafeMode,
		SameDomainOnly:     t.SameDomainOnly,
		AllowExternalLinks: t.AllowExternalLinks,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal research request: %w", err)
	}

	var out *ResearchResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/research", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build research request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("call research agent: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			var eb errorBody
			if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
				return errors.New(eb.Error)
			}
			return fmt.Errorf("research agent returned status %d", resp.StatusCode)
		}

		var rr ResearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return fmt.Errorf("decode research response: %w", err)
		}
		out = &rr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProgressEvent is one streamed progress update from the orchestrator.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// StreamProgress dials the orchestrator's progress feed for one task and
// invokes fn for each event until the feed closes or ctx is done. The feed
// is best-effort: failures are logged and never fail the task.
func (c *Client) StreamProgress(ctx context.Context, taskID string, fn func(ProgressEvent)) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/progress/" + taskID

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		slog.Debug("progress stream unavailable", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev ProgressEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("malformed progress event", "task_id", taskID, "error", err)
			continue
		}
		fn(ev)
	}
}
