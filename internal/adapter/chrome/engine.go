// Package chrome implements the browser engine port on the Chrome DevTools
// Protocol via chromedp. Each isolated browsing context maps to a CDP
// browser context (equivalent to an incognito profile), so tasks share no
// cookies, storage, or cache.
package chrome

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"unicode/utf8"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/Strob0t/WebScout/internal/port/engine"
)

// userAgents is the pool a fresh context draws from. All entries are current
// desktop Chrome builds so the UA matches the actual engine.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// stealthScript runs before any page script in a new context and removes the
// most common automation tells.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Config selects how the engine reaches Chrome. A localhost (or empty) host
// launches a local browser; anything else dials a remote DevTools endpoint
// over websocket. There is no fallback between the two.
type Config struct {
	Host     string
	Port     int
	Headless bool
}

func (c Config) remote() bool {
	return c.Host != "" && c.Host != "localhost" && c.Host != "127.0.0.1"
}

// Engine is the CDP-backed implementation of engine.Engine. Connection is
// lazy: nothing launches or dials until the first NewContext call.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
}

// NewEngine creates an unconnected Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// connect launches or dials the browser once. Caller holds e.mu.
func (e *Engine) connect(ctx context.Context) error {
	if e.browserCtx != nil {
		return nil
	}

	var allocCtx context.Context
	if e.cfg.remote() {
		url := fmt.Sprintf("ws://%s:%d", e.cfg.Host, e.cfg.Port)
		slog.Info("connecting to remote browser", "url", url)
		allocCtx, e.cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), url, chromedp.NoModifyURL)
	} else {
		slog.Info("launching local browser", "headless", e.cfg.Headless)
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", e.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
		)
		allocCtx, e.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		e.cancelAlloc()
		e.cancelAlloc = nil
		if e.cfg.remote() {
			return fmt.Errorf("connect to browser at %s:%d: %w", e.cfg.Host, e.cfg.Port, err)
		}
		return fmt.Errorf("launch browser: %w", err)
	}
	e.browserCtx = browserCtx
	e.cancelCtx = cancel
	return nil
}

// browserExecutor returns a context that routes CDP commands to the browser
// session itself rather than to a page target. Caller holds e.mu or has
// otherwise established that browserCtx is set.
func (e *Engine) browserExecutor(ctx context.Context) context.Context {
	c := chromedp.FromContext(e.browserCtx)
	return cdp.WithExecutor(ctx, c.Browser)
}

// NewContext creates an isolated CDP browser context and applies the fixed
// privacy policy: randomized user agent and viewport, denied downloads, and
// the stealth init script on every page.
func (e *Engine) NewContext(ctx context.Context) (engine.BrowserContext, error) {
	e.mu.Lock()
	if err := e.connect(ctx); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	bctxID, err := target.CreateBrowserContext().
		WithDisposeOnDetach(true).
		Do(e.browserExecutor(ctx))
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	if err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny).
		WithBrowserContextID(bctxID).
		Do(e.browserExecutor(ctx)); err != nil {
		slog.Warn("denying downloads", "error", err)
	}

	return &browserContext{
		eng:    e,
		id:     bctxID,
		ua:     userAgents[rand.IntN(len(userAgents))],
		width:  int64(1280 + rand.IntN(641)),
		height: int64(720 + rand.IntN(361)),
	}, nil
}

// Close tears down the browser session and, for a local launch, the Chrome
// process.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(e.browserCtx)
	e.cancelCtx()
	e.cancelAlloc()
	e.browserCtx = nil
	e.cancelCtx = nil
	e.cancelAlloc = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type browserContext struct {
	eng    *Engine
	id     cdp.BrowserContextID
	ua     string
	width  int64
	height int64
}

// NewPage opens a tab inside this context and configures it: UA override,
// viewport, privacy headers, and the stealth script.
func (b *browserContext) NewPage(ctx context.Context) (engine.Page, error) {
	tid, err := target.CreateTarget("about:blank").
		WithBrowserContextID(b.id).
		Do(b.eng.browserExecutor(ctx))
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	pageCtx, cancel := chromedp.NewContext(b.eng.browserCtx, chromedp.WithTargetID(tid))
	if err := chromedp.Run(pageCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(b.ua).WithAcceptLanguage("en-US,en;q=0.9"),
		chromedp.EmulateViewport(b.width, b.height),
		network.SetExtraHTTPHeaders(network.Headers{
			"DNT":     "1",
			"Sec-GPC": "1",
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("configure page: %w", err)
	}

	return &cdpPage{ctx: pageCtx, cancel: cancel}, nil
}

// Close disposes the browser context, which also closes any remaining
// targets inside it.
func (b *browserContext) Close(ctx context.Context) error {
	if err := target.DisposeBrowserContext(b.id).Do(b.eng.browserExecutor(ctx)); err != nil {
		return fmt.Errorf("dispose browser context: %w", err)
	}
	return nil
}

type cdpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the page, bounded by the caller's context.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *cdpPage) Navigate(ctx context.Context, url string) (*engine.PageInfo, error) {
	info := &engine.PageInfo{}
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
	)
	if err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return info, nil
}

func (p *cdpPage) ExtractText(ctx context.Context, maxChars int) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(
		`document.body ? document.body.innerText : ''`, &text,
	))
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return truncateRunes(text, maxChars), nil
}

// truncateRunes caps s at maxChars bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (p *cdpPage) ExtractLinks(ctx context.Context, maxLinks int) ([]engine.Link, error) {
	var links []engine.Link
	err := p.run(ctx, chromedp.Evaluate(
		`Array.from(document.querySelectorAll('a[href]'))
			.map(a => ({url: a.href, text: (a.innerText || '').trim()}))
			.filter(l => l.url.startsWith('http'))`, &links,
	))
	if err != nil {
		return nil, fmt.Errorf("extract links: %w", err)
	}
	if maxLinks > 0 && len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links, nil
}

func (p *cdpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *cdpPage) Close(context.Context) error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}
