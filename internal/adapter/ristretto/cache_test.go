package ristretto

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetIsImmediatelyVisible(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "stats", []byte(`{"tasks":3}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "stats")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte(`{"tasks":3}`)) {
		t.Fatalf("value = %q", got)
	}
}

func TestDeleteRemoves(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "stats", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "stats"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "stats"); ok {
		t.Fatal("value present after delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "stats", []byte("v"), 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "stats"); ok {
		t.Fatal("value present after TTL expiry")
	}
}

func TestHitRatioTracksGets(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, _, _ = c.Get(ctx, "missing")
	_ = c.Set(ctx, "stats", []byte("v"), time.Minute)
	_, _, _ = c.Get(ctx, "stats")

	ratio := c.HitRatio()
	if ratio <= 0 || ratio >= 1 {
		t.Fatalf("hit ratio = %v, want between 0 and 1 after one miss and one hit", ratio)
	}
}
