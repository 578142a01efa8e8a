package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domain/task"
	"github.com/Strob0t/WebScout/internal/resilience"
)

func newTestClient(url string) *Client {
	return NewClient(
		config.Agent{URL: url, Timeout: 5 * time.Second},
		resilience.NewBreaker(3, time.Minute),
	)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestExecuteResearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/research" || r.Method != http.MethodPost {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var req researchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TaskID != "t1" || req.Question != "why is the sky blue" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ResearchResponse{
			Answer: "rayleigh scattering",
			Citations: []task.Citation{
				{URL: "https://en.wikipedia.org/wiki/Rayleigh_scattering", Title: "Rayleigh scattering"},
			},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).ExecuteResearch(context.Background(), task.Task{
		ID:       "t1",
		Question: "why is the sky blue",
	})
	if err != nil {
		t.Fatalf("ExecuteResearch: %v", err)
	}
	if res.Answer != "rayleigh scattering" || len(res.Citations) != 1 {
		t.Fatalf("response = %+v", res)
	}
}

func TestExecuteResearchOutlivesHealthTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(ResearchResponse{Answer: "slow but done"})
	}))
	defer srv.Close()

	c := NewClient(
		config.Agent{URL: srv.URL, Timeout: 50 * time.Millisecond},
		resilience.NewBreaker(3, time.Minute),
	)

	// The budget lives on the context; the configured timeout must not
	// abort a research call that is still inside its budget.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.ExecuteResearch(ctx, task.Task{ID: "t1", Question: "slow question"})
	if err != nil {
		t.Fatalf("ExecuteResearch: %v", err)
	}
	if res.Answer != "slow but done" {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestHealthHonorsConfiguredTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(
		config.Agent{URL: srv.URL, Timeout: 50 * time.Millisecond},
		resilience.NewBreaker(3, time.Minute),
	)
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("Health succeeded, want timeout")
	}
}

func TestExecuteResearchSurfacesAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "search engine unreachable"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExecuteResearch(context.Background(), task.Task{ID: "t1"})
	if err == nil || err.Error() != "search engine unreachable" {
		t.Fatalf("err = %v, want the agent message verbatim", err)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(
		config.Agent{URL: srv.URL, Timeout: 5 * time.Second},
		resilience.NewBreaker(2, time.Minute),
	)

	_ = c.Health(context.Background())
	_ = c.Health(context.Background())
	if err := c.Health(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestStreamProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/progress/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for _, ev := range []ProgressEvent{
			{Stage: "search", Message: "querying duckduckgo"},
			{Stage: "navigate", URL: "https://example.com"},
		} {
			data, _ := json.Marshal(ev)
			_ = conn.Write(r.Context(), websocket.MessageText, data)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []ProgressEvent
	newTestClient(srv.URL).StreamProgress(ctx, "t1", func(ev ProgressEvent) {
		got = append(got, ev)
	})

	if len(got) != 2 {
		t.Fatalf("events = %d, want 2: %+v", len(got), got)
	}
	if got[0].Stage != "search" || got[1].URL != "https://example.com" {
		t.Fatalf("events = %+v", got)
	}
}

func TestStreamProgressUnavailableIsSilent(t *testing.T) {
	// Nothing listening; StreamProgress must return without error or panic.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	newTestClient("http://127.0.0.1:1").StreamProgress(ctx, "t1", func(ProgressEvent) {
		t.Fatal("unexpected event")
	})
}
