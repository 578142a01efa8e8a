// Package ratelimit provides a per-domain sliding-window limiter with a
// politeness delay, used to pace browser traffic against remote hosts.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds limiter tuning. Requests per Window is the hard quota; the
// politeness delay is drawn uniformly from [DelayMin, DelayMax] before each
// repeat request to a domain.
type Config struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	DelayMin time.Duration
	DelayMax time.Duration
}

// Limiter tracks request history per domain. Domains are independent:
// saturating one never delays another. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	cfg     Config
	now     func() time.Time
}

// New creates a Limiter. A disabled config yields a limiter whose AwaitSlot
// returns immediately.
func New(cfg Config) *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		cfg:     cfg,
		now:     time.Now,
	}
}

// AwaitSlot blocks until a request to domain is permitted, then records the
// request. It waits first for the sliding window when the domain is at quota,
// then for the politeness delay when the domain has recent history. Returns
// early with ctx.Err() if the context is cancelled while waiting.
func (l *Limiter) AwaitSlot(ctx context.Context, domain string) error {
	if !l.cfg.Enabled {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	recent := l.trim(domain, now)

	if l.cfg.Requests > 0 && len(recent) >= l.cfg.Requests {
		wait := recent[0].Add(l.cfg.Window).Sub(now)
		l.mu.Unlock()
		if wait > 0 {
			slog.Debug("rate limit reached, waiting", "domain", domain, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
		// The window has rolled over; start the domain fresh so the
		// politeness delay does not also apply.
		l.mu.Lock()
		delete(l.history, domain)
		recent = nil
	}

	if len(recent) > 0 && l.cfg.DelayMax > 0 {
		delay := l.politenessDelay()
		l.mu.Unlock()
		slog.Debug("politeness delay", "domain", domain, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		l.mu.Lock()
	}

	l.history[domain] = append(l.history[domain], l.now())
	l.mu.Unlock()
	return nil
}

// trim drops history entries older than the window. Caller holds l.mu.
func (l *Limiter) trim(domain string, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Window)
	ts := l.history[domain]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = append([]time.Time(nil), ts[i:]...)
		if len(ts) == 0 {
			delete(l.history, domain)
		} else {
			l.history[domain] = ts
		}
	}
	return ts
}

func (l *Limiter) politenessDelay() time.Duration {
	min, max := l.cfg.DelayMin, l.cfg.DelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}

// DomainOf extracts the lowercased hostname used as the rate-limit key.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(host), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
