package transport

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/helixir/paper-harvester/internal/domain"
)

// BrowserTransport renders pages in a headless Chrome tab driven over the
// DevTools protocol. Cookies are cleared before every navigation so each
// page is fetched as a fresh visitor. Only GET requests are supported.
//
// A BrowserTransport owns one tab; Fetch calls are serialized.
type BrowserTransport struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	rateLimiter *RateLimiter
	config      Config

	mu     sync.Mutex
	closed bool
}

var _ Transport = (*BrowserTransport)(nil)

// browserFlags returns the Chrome command-line flags set on top of the
// chromedp defaults. The session must not announce itself as automated.
func browserFlags(cfg Config) map[string]any {
	return map[string]any{
		"headless":               cfg.Headless,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
	}
}

// NewBrowserTransport starts a browser for one provider pipeline.
// The browser lives until Close; ctx only bounds startup.
func NewBrowserTransport(ctx context.Context, cfg Config) (*BrowserTransport, error) {
	cfg = applyDefaults(cfg)

	opts := slices.Clone(chromedp.DefaultExecAllocatorOptions[:])
	for name, value := range browserFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	if cfg.BinaryLocation != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryLocation))
	}

	// The browser must outlive the startup context, so it hangs off a
	// detached parent and is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, domain.NewTransportError(cfg.BinaryLocation, 0, "starting browser", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	return &BrowserTransport{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}, nil
}

// Fetch navigates the tab to req.URL and returns the rendered document.
func (b *BrowserTransport) Fetch(ctx context.Context, req Request) (*Page, error) {
	if req.method() != http.MethodGet {
		return nil, domain.NewTransportError(req.URL, 0, fmt.Sprintf("browser transport cannot send %s requests", req.method()), nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.NewTransportError(req.URL, 0, "browser transport is closed", nil)
	}

	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	// Chrome actions run on the tab context; tie them to the caller's
	// context and the fetch timeout.
	runCtx, cancel := context.WithTimeout(b.tabCtx, b.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, network.ClearBrowserCookies()); err != nil {
		return nil, b.fetchError(ctx, req, 0, "clearing cookies", err)
	}

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(req.URL))
	if err != nil {
		return nil, b.fetchError(ctx, req, 0, "navigating", err)
	}

	status := 0
	url := req.URL
	if resp != nil {
		status = int(resp.Status)
		if resp.URL != "" {
			url = resp.URL
		}
	}
	if status != 0 && (status < 200 || status >= 300) {
		return nil, domain.NewTransportError(req.URL, status, fmt.Sprintf("unexpected status %d", status), nil)
	}

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, b.fetchError(ctx, req, status, "reading document", err)
	}

	if status == 0 {
		status = http.StatusOK
	}
	return &Page{
		URL:        url,
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(html),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (b *BrowserTransport) fetchError(ctx context.Context, req Request, status int, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.NewTransportError(req.URL, status, msg, err)
}

// Close shuts the browser down. It is safe to call more than once.
func (b *BrowserTransport) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.tabCancel()
	b.allocCancel()
	return nil
}
