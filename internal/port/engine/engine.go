// Package engine defines the browser automation port. Adapters (a CDP
// implementation in production, fakes in tests) provide the engine; the
// browser manager and tool services consume it.
package engine

import "context"

// Engine is a running browser instance capable of spawning isolated
// contexts. Implementations connect lazily: constructing an Engine must not
// launch or dial anything.
type Engine interface {
	// NewContext creates a fresh isolated browsing context with no shared
	// cookies, storage, or cache.
	NewContext(ctx context.Context) (BrowserContext, error)
	// Close tears down the engine and every context it still owns.
	Close(ctx context.Context) error
}

// BrowserContext is one isolated browsing context.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is a single tab inside a context.
type Page interface {
	// Navigate loads the URL and returns the final location and title
	// after redirects.
	Navigate(ctx context.Context, url string) (*PageInfo, error)
	// ExtractText returns the page's visible text, truncated to maxChars
	// when maxChars > 0.
	ExtractText(ctx context.Context, maxChars int) (string, error)
	// ExtractLinks returns up to maxLinks anchors resolved to absolute
	// URLs.
	ExtractLinks(ctx context.Context, maxLinks int) ([]Link, error)
	// Screenshot captures the page as PNG.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close(ctx context.Context) error
}

// PageInfo describes a loaded page.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Link is one extracted anchor.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}
