package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func doFrom(handler http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())

	for i := range 10 {
		if rec := doFrom(handler, "192.168.1.1:1234"); rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterExemptPaths(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	rl.Exempt("/tools/v1")
	handler := rl.Handler(okHandler())

	// Exhaust the single token on the limited surface.
	doFrom(handler, "192.168.1.1:1234")
	if rec := doFrom(handler, "192.168.1.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on limited path, got %d", rec.Code)
	}

	// The tool surface stays open regardless.
	for i := range 5 {
		req := httptest.NewRequest(http.MethodPost, "/tools/v1/navigate", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("exempt request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	handler := rl.Handler(okHandler())

	for range 5 {
		doFrom(handler, "192.168.1.1:1234")
	}

	rec := doFrom(handler, "192.168.1.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())

	rec := doFrom(handler, "192.168.1.1:1234")
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining header")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	handler := rl.Handler(okHandler())

	doFrom(handler, "192.168.1.1:1234")
	if rec := doFrom(handler, "192.168.1.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: expected 429, got %d", rec.Code)
	}
	if rec := doFrom(handler, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	handler := rl.Handler(okHandler())

	doFrom(handler, "192.168.1.1:1234")
	doFrom(handler, "10.0.0.2:1234")
	if rl.Len() != 2 {
		t.Fatalf("buckets = %d, want 2", rl.Len())
	}

	time.Sleep(5 * time.Millisecond)
	rl.cleanup(time.Millisecond)
	if rl.Len() != 0 {
		t.Fatalf("buckets after cleanup = %d, want 0", rl.Len())
	}
}
