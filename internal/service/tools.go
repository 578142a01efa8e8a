package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	wsotel "github.com/Strob0t/WebScout/internal/adapter/otel"
	"github.com/Strob0t/WebScout/internal/artifacts"
	"github.com/Strob0t/WebScout/internal/browser"
	"github.com/Strob0t/WebScout/internal/config"
	"github.com/Strob0t/WebScout/internal/domain"
	"github.com/Strob0t/WebScout/internal/domainfilter"
	"github.com/Strob0t/WebScout/internal/port/engine"
	"github.com/Strob0t/WebScout/internal/ratelimit"
)

// Tools exposes the low-level browser operations the agent orchestrator
// calls during a research run. Every operation is scoped to a task's
// isolated session, and navigation goes through the politeness limiter.
type Tools struct {
	cfg     config.Browser
	browser *browser.Manager
	limiter *ratelimit.Limiter
	filter  *domainfilter.Filter
	store   *artifacts.Store
	metrics *wsotel.Metrics // nil when telemetry is disabled
}

// SetMetrics attaches metric instruments. Call before serving traffic.
func (s *Tools) SetMetrics(m *wsotel.Metrics) { s.metrics = m }

// NewTools wires a Tools service. store may be nil; screenshots are then
// returned inline only. A nil filter allows every domain.
func NewTools(cfg config.Browser, mgr *browser.Manager, limiter *ratelimit.Limiter, filter *domainfilter.Filter, store *artifacts.Store) *Tools {
	return &Tools{cfg: cfg, browser: mgr, limiter: limiter, filter: filter, store: store}
}

// Navigate loads a URL in the task's page, honoring the domain allow/deny
// policy and the per-domain limiter. Scheme-less URLs are normalized to
// https; any scheme other than http or https is rejected.
func (s *Tools) Navigate(ctx context.Context, taskID, rawURL string) (*engine.PageInfo, error) {
	u, err := url.Parse(rawURL)
	if err == nil && u.Scheme == "" && u.Host == "" && rawURL != "" && !strings.Contains(rawURL, " ") {
		rawURL = "https://" + rawURL
		u, err = url.Parse(rawURL)
	}
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url %q must be http or https: %w", rawURL, domain.ErrValidation)
	}
	if !s.filter.Allowed(u.Hostname()) {
		return nil, fmt.Errorf("domain %q blocked by policy: %w", u.Hostname(), domain.ErrValidation)
	}

	dom, err := ratelimit.DomainOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrValidation)
	}
	if err := s.limiter.AwaitSlot(ctx, dom); err != nil {
		return nil, err
	}

	ctx, span := wsotel.StartNavigationSpan(ctx, taskID, rawURL)
	defer span.End()

	page, err := s.browser.Handle(ctx, taskID)
	if err != nil {
		return nil, err
	}
	info, err := page.Navigate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PagesVisited.Add(ctx, 1)
	}
	return info, nil
}

// ExtractText returns the visible text of the task's current page, capped
// at the configured limit.
func (s *Tools) ExtractText(ctx context.Context, taskID string) (string, error) {
	page, err := s.browser.Handle(ctx, taskID)
	if err != nil {
		return "", err
	}
	return page.ExtractText(ctx, s.cfg.MaxTextChars)
}

// ExtractLinks returns absolute links from the task's current page, capped
// at the configured limit.
func (s *Tools) ExtractLinks(ctx context.Context, taskID string) ([]engine.Link, error) {
	page, err := s.browser.Handle(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return page.ExtractLinks(ctx, s.cfg.MaxLinks)
}

// Screenshot captures the task's current page. With save set, the PNG is
// also persisted to the task's artifacts and its relative path returned.
func (s *Tools) Screenshot(ctx context.Context, taskID string, fullPage, save bool) ([]byte, string, error) {
	page, err := s.browser.Handle(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	data, err := page.Screenshot(ctx, fullPage)
	if err != nil {
		return nil, "", err
	}

	var path string
	if save && s.store != nil {
		path, err = s.store.SaveScreenshot(ctx, taskID, data)
		if err != nil {
			return nil, "", err
		}
	}
	return data, path, nil
}

// Cleanup tears down the task's browser session.
func (s *Tools) Cleanup(ctx context.Context, taskID string) {
	s.browser.Cleanup(ctx, taskID)
}

// SessionCount reports live browser sessions for health output.
func (s *Tools) SessionCount() int {
	return s.browser.SessionCount()
}
