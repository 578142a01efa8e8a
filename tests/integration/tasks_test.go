//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domain/task"
)

func postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := http.Post(testServer.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

// TestTaskReachesArchive drives a task through the full lifecycle and checks
// the terminal snapshot lands in the PostgreSQL archive.
func TestTaskReachesArchive(t *testing.T) {
	resp, body := postJSON(t, "/api/v1/tasks", map[string]any{
		"question": "integration lifecycle question",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created task.Task
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	t.Cleanup(func() { _ = testArchive.Delete(context.Background(), created.ID) })

	// Wait for the task to finish and the detached persistence to land.
	deadline := time.Now().Add(10 * time.Second)
	for {
		got, err := testArchive.Get(context.Background(), created.ID)
		if err == nil {
			if got.Status != task.StatusCompleted {
				t.Fatalf("archived status = %q", got.Status)
			}
			if got.Result == nil || got.Result.Answer == "" {
				t.Fatalf("archived result = %+v", got.Result)
			}

			// The archived snapshot must also be readable over the API.
			resp, err := http.Get(testServer.URL + "/api/v1/archive/tasks/" + created.ID)
			if err != nil {
				t.Fatalf("GET archived task: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("archive endpoint status = %d", resp.StatusCode)
			}
			var archived task.Task
			if err := json.NewDecoder(resp.Body).Decode(&archived); err != nil {
				t.Fatalf("decode archived task: %v", err)
			}
			if archived.ID != created.ID || archived.Status != task.StatusCompleted {
				t.Fatalf("archived task = %+v", archived)
			}
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("archive get: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("task never reached the archive")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q", body.Status)
	}
}

func TestAPIVersion(t *testing.T) {
	resp, err := http.Get(testServer.URL + "/api/v1/")
	if err != nil {
		t.Fatalf("GET /api/v1/: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
