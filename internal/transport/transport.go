// Package transport fetches result and detail pages for provider adapters.
//
// Two implementations exist: HTTPTransport issues plain HTTP requests and
// suits JSON APIs and server-rendered HTML, while BrowserTransport drives a
// headless Chrome session for pages that need a real browser. Both enforce a
// request rate limit; pacing between pages and retries of failed fetches are
// handled by the caller.
package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
)

// Request is a transport-neutral description of one fetch.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Get creates a GET request.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// PostJSON creates a POST request carrying a JSON body.
func PostJSON(url string, body []byte, header map[string]string) Request {
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range header {
		h[k] = v
	}
	return Request{Method: http.MethodPost, URL: url, Header: h, Body: body}
}

// method returns the request method, defaulting to GET.
func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Page is a fetched response body.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	FetchedAt  time.Time
}

// Transport fetches pages. Implementations must be safe for use by a single
// provider pipeline; pipelines never share a Transport.
type Transport interface {
	// Fetch performs req and returns the response page.
	//
	// Failures are reported as *domain.TransportError. Context cancellation
	// is returned unwrapped so callers can stop promptly.
	Fetch(ctx context.Context, req Request) (*Page, error)

	// Close releases the transport's resources (idle connections, the
	// browser process). Fetch must not be called after Close.
	Close() error
}

// Kind selects a transport implementation.
type Kind string

const (
	// KindHTTP always uses HTTPTransport.
	KindHTTP Kind = "http"
	// KindBrowser always uses BrowserTransport.
	KindBrowser Kind = "browser"
	// KindAuto uses the browser for providers that need rendering and HTTP otherwise.
	KindAuto Kind = "auto"
)

// Config configures transport construction.
type Config struct {
	// Kind selects the implementation.
	Kind Kind

	// Timeout bounds a single fetch.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxThrottleRetries bounds in-transport retries of 429 responses that
	// carry a Retry-After header.
	MaxThrottleRetries int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// BinaryLocation is the Chrome binary used by BrowserTransport.
	BinaryLocation string

	// ExecutablePath is the configured driver executable path. Chrome is
	// driven over the DevTools protocol, so no driver is launched and the
	// path is not read by any transport.
	ExecutablePath string

	// Headless runs the browser without a window.
	Headless bool
}

// Open creates the transport for one provider pipeline. rendering reports
// whether the provider's pages need a browser; it only matters for KindAuto.
func Open(ctx context.Context, cfg Config, rendering bool) (Transport, error) {
	switch cfg.Kind {
	case KindHTTP:
		return NewHTTPTransport(cfg), nil
	case KindBrowser:
		return NewBrowserTransport(ctx, cfg)
	case KindAuto, "":
		if rendering {
			return NewBrowserTransport(ctx, cfg)
		}
		return NewHTTPTransport(cfg), nil
	default:
		return nil, domain.NewConfigurationError("transport.kind", "unknown transport kind "+string(cfg.Kind), string(KindHTTP), string(KindBrowser), string(KindAuto))
	}
}
