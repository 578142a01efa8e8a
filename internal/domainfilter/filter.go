// Package domainfilter enforces the navigation allow/deny domain policy.
// Deny entries always win; a non-empty allow list restricts navigation to
// matching domains. Entries may use glob patterns, and a leading "*." also
// matches the apex domain.
package domainfilter

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/Strob0t/WebScout/internal/config"
)

// Filter decides whether a domain may be navigated to. The zero-value and
// nil filters allow everything.
type Filter struct {
	allowed []string
	denied  []string
}

// New builds a Filter from the configured inline lists merged with the
// optional list files. A configured file that does not exist is logged and
// skipped, matching operator expectations for optional policy files.
func New(cfg config.Filter) (*Filter, error) {
	f := &Filter{
		allowed: normalize(cfg.Allowed),
		denied:  normalize(cfg.Denied),
	}

	fromFile, err := loadList(cfg.AllowedFile)
	if err != nil {
		return nil, fmt.Errorf("allowed domains: %w", err)
	}
	f.allowed = append(f.allowed, fromFile...)

	fromFile, err = loadList(cfg.DeniedFile)
	if err != nil {
		return nil, fmt.Errorf("denied domains: %w", err)
	}
	f.denied = append(f.denied, fromFile...)

	if len(f.allowed) > 0 || len(f.denied) > 0 {
		slog.Info("domain filter active", "allowed", len(f.allowed), "denied", len(f.denied))
	}
	return f, nil
}

// Allowed reports whether host passes the policy. The port, if any, must
// already be stripped; matching is case-insensitive.
func (f *Filter) Allowed(host string) bool {
	if f == nil {
		return true
	}
	host = strings.ToLower(host)

	for _, pattern := range f.denied {
		if matches(pattern, host) {
			slog.Warn("domain blocked by deny list", "domain", host)
			return false
		}
	}

	if len(f.allowed) == 0 {
		return true
	}
	for _, pattern := range f.allowed {
		if matches(pattern, host) {
			return true
		}
	}
	slog.Warn("domain not in allow list", "domain", host)
	return false
}

// matches checks one pattern against a host. "*.example.com" covers the
// apex example.com as well as every subdomain.
func matches(pattern, host string) bool {
	if apex, ok := strings.CutPrefix(pattern, "*."); ok && host == apex {
		return true
	}
	ok, err := path.Match(pattern, host)
	return err == nil && ok
}

// loadList reads a domain list file: one entry per line, blank lines and
// "#" comments skipped. A missing file yields an empty list.
func loadList(filepath string) ([]string, error) {
	if filepath == "" {
		return nil, nil
	}
	file, err := os.Open(filepath) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("domain list file not found", "path", filepath)
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath, err)
	}
	defer file.Close()

	var domains []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath, err)
	}
	slog.Info("domain list loaded", "path", filepath, "entries", len(domains))
	return domains, nil
}

func normalize(list []string) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
