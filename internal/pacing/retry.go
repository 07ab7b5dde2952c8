package pacing

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/helixir/paper-harvester/internal/domain"
)

// RetryNotify is called after a failed attempt that will be retried.
type RetryNotify func(attempt uint, err error)

// Retryable reports whether err is worth another attempt. Extraction errors,
// cancellation and non-temporary transport errors are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrExtraction) {
		return false
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return retry.IsRecoverable(err)
}

// Retry runs op until it succeeds, fails with a non-retryable error, or
// policy.MaxAttempts attempts have been made. The last error is returned.
func (p *Pacer) Retry(ctx context.Context, policy Policy, op func(ctx context.Context) error, notify RetryNotify) error {
	attempts := max(policy.MaxAttempts, 1)

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(policy.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
	}
	if policy.RetryJitter > 0 {
		opts = append(opts,
			retry.MaxJitter(policy.RetryJitter),
			retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		)
	} else {
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
	}
	if notify != nil {
		opts = append(opts, retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts && Retryable(err) {
				notify(n+1, err)
			}
		}))
	}
	if p.instant {
		opts = append(opts, retry.WithTimer(instantTimer{}))
	}

	return retry.Do(func() error { return op(ctx) }, opts...)
}

type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}
