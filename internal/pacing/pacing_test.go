package pacing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
)

func TestPacer_Duration(t *testing.T) {
	p := NewPacer(WithSeed(7))

	t.Run("fixed", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, p.Duration(Delay{Min: 2 * time.Second}))
	})

	t.Run("jitter stays in range", func(t *testing.T) {
		d := Delay{Min: time.Second, Jitter: 500 * time.Millisecond}
		for i := 0; i < 200; i++ {
			got := p.Duration(d)
			assert.GreaterOrEqual(t, got, time.Second)
			assert.Less(t, got, 1500*time.Millisecond)
		}
	})

	t.Run("negative min clamps to zero", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), p.Duration(Delay{Min: -time.Second}))
	})
}

func TestPacer_Pause(t *testing.T) {
	var slept []time.Duration
	p := NewPacer(WithSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	require.NoError(t, p.Pause(context.Background(), Delay{Min: 3 * time.Second}))
	assert.Equal(t, []time.Duration{3 * time.Second}, slept)
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestPolicy_Merge(t *testing.T) {
	base := Policy{
		PageDelay:   Delay{Min: 2 * time.Second, Jitter: 2 * time.Second},
		ItemDelay:   Delay{Min: time.Second},
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}

	merged := base.Merge(Policy{ItemDelay: Delay{Min: 5 * time.Second}, MaxAttempts: 5})
	assert.Equal(t, base.PageDelay, merged.PageDelay)
	assert.Equal(t, Delay{Min: 5 * time.Second}, merged.ItemDelay)
	assert.Equal(t, uint(5), merged.MaxAttempts)
	assert.Equal(t, time.Second, merged.RetryDelay)

	assert.Equal(t, base, base.Merge(Policy{}))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), false},
		{"extraction", domain.NewExtractionError("acm", "title", "missing"), false},
		{"network", domain.NewTransportError("u", 0, "reset", nil), true},
		{"server error", domain.NewTransportError("u", 503, "unavailable", nil), true},
		{"not found", domain.NewTransportError("u", 404, "gone", nil), false},
		{"plain error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Retryable(tt.err))
		})
	}
}

func TestPacer_Retry(t *testing.T) {
	p := NewPacer(WithoutDelays())
	policy := Policy{MaxAttempts: 3, RetryDelay: time.Hour, RetryJitter: time.Hour}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		var notified []uint
		err := p.Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return domain.NewTransportError("u", 502, "bad gateway", nil)
			}
			return nil
		}, func(attempt uint, err error) {
			notified = append(notified, attempt)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []uint{1, 2}, notified)
	})

	t.Run("gives up after max attempts with last error", func(t *testing.T) {
		calls := 0
		err := p.Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			return domain.NewTransportError("u", 500, fmt.Sprintf("attempt %d", calls), nil)
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "attempt 3")
		assert.ErrorIs(t, err, domain.ErrTransport)
	})

	t.Run("extraction errors are not retried", func(t *testing.T) {
		calls := 0
		err := p.Retry(context.Background(), policy, func(ctx context.Context) error {
			calls++
			return domain.NewExtractionError("ieee", "records", "missing")
		}, nil)
		assert.ErrorIs(t, err, domain.ErrExtraction)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		calls := 0
		err := p.Retry(context.Background(), Policy{}, func(ctx context.Context) error {
			calls++
			return errors.New("nope")
		}, nil)
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context stops before the first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := p.Retry(ctx, policy, func(ctx context.Context) error {
			calls++
			return nil
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})
}
