// Package pacing spaces out requests to a provider and retries failed fetches.
//
// Every provider declares a Policy: a randomized delay between result pages,
// another between detail pages, and how often a failed fetch is retried.
// Randomized delays keep the request pattern from looking mechanical.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Delay is a randomized pause of Min plus a uniform draw from [0, Jitter).
type Delay struct {
	Min    time.Duration `mapstructure:"min"`
	Jitter time.Duration `mapstructure:"jitter"`
}

// IsZero reports whether the delay pauses for no time at all.
func (d Delay) IsZero() bool {
	return d.Min <= 0 && d.Jitter <= 0
}

// Policy describes how a provider is paced and retried.
type Policy struct {
	// PageDelay is waited before each result page after the first.
	PageDelay Delay

	// ItemDelay is waited before each detail page after the first.
	ItemDelay Delay

	// MaxAttempts is the total number of tries for one fetch, including the first.
	MaxAttempts uint

	// RetryDelay is the base backoff delay between attempts.
	RetryDelay time.Duration

	// RetryJitter adds a random delay of up to this duration to each backoff.
	RetryJitter time.Duration
}

// Merge returns p with every non-zero field of override applied.
func (p Policy) Merge(override Policy) Policy {
	if !override.PageDelay.IsZero() {
		p.PageDelay = override.PageDelay
	}
	if !override.ItemDelay.IsZero() {
		p.ItemDelay = override.ItemDelay
	}
	if override.MaxAttempts > 0 {
		p.MaxAttempts = override.MaxAttempts
	}
	if override.RetryDelay > 0 {
		p.RetryDelay = override.RetryDelay
	}
	if override.RetryJitter > 0 {
		p.RetryJitter = override.RetryJitter
	}
	return p
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for the specified duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer draws randomized delays and runs retries. It is safe for concurrent use.
type Pacer struct {
	sleep   SleepFunc
	instant bool

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithSleep replaces the function used to wait.
func WithSleep(sleep SleepFunc) Option {
	return func(p *Pacer) { p.sleep = sleep }
}

// WithSeed makes the delay draws deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Pacer) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithoutDelays disables all waiting, including retry backoff.
func WithoutDelays() Option {
	return func(p *Pacer) {
		p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		p.instant = true
	}
}

// NewPacer creates a Pacer.
func NewPacer(opts ...Option) *Pacer {
	p := &Pacer{
		sleep: Sleep,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Duration draws a concrete wait from d.
func (p *Pacer) Duration(d Delay) time.Duration {
	wait := max(d.Min, 0)
	if d.Jitter > 0 {
		p.mu.Lock()
		wait += time.Duration(p.rng.Int64N(int64(d.Jitter)))
		p.mu.Unlock()
	}
	return wait
}

// Pause waits for a duration drawn from d.
func (p *Pacer) Pause(ctx context.Context, d Delay) error {
	return p.sleep(ctx, p.Duration(d))
}
