package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// defaultThrottleDelay is used when a 429 response has no usable Retry-After.
const defaultThrottleDelay = 2 * time.Second

// HTTPTransport fetches pages over plain HTTP with rate limiting.
// It is safe for concurrent use.
type HTTPTransport struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      Config
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg Config) *HTTPTransport {
	cfg = applyDefaults(cfg)
	return &HTTPTransport{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

func applyDefaults(cfg Config) Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.MaxThrottleRetries == 0 {
		cfg.MaxThrottleRetries = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	return cfg
}

// Fetch performs req. A 429 response with a Retry-After header is retried
// in place up to MaxThrottleRetries times; every other non-2xx status is
// returned as a *domain.TransportError for the caller's retry policy.
func (t *HTTPTransport) Fetch(ctx context.Context, req Request) (*Page, error) {
	for attempt := 0; ; attempt++ {
		if err := t.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		httpReq, err := t.newRequest(ctx, req)
		if err != nil {
			return nil, domain.NewTransportError(req.URL, 0, "creating request", err)
		}

		resp, err := t.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.NewTransportError(req.URL, 0, "request failed", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < t.config.MaxThrottleRetries {
			if delay, ok := retryAfter(resp); ok {
				drain(resp)
				if err := waitForRetry(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
		}

		return t.readPage(req, resp)
	}
}

func (t *HTTPTransport) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", t.config.UserAgent)
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (t *HTTPTransport) readPage(req Request, resp *http.Response) (*Page, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, domain.NewTransportError(req.URL, resp.StatusCode, "reading response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewTransportError(req.URL, resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if len(body) > maxBodySize {
		return nil, domain.NewTransportError(req.URL, resp.StatusCode, fmt.Sprintf("response body exceeds %d bytes", maxBodySize), nil)
	}

	return &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// retryAfter parses the Retry-After header as seconds or an HTTP date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
		return defaultThrottleDelay, true
	}

	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay, true
		}
	}

	return defaultThrottleDelay, true
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
}

// IsCanceled reports whether err is a context cancellation or deadline error.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
