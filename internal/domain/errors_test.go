package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Run("configuration", func(t *testing.T) {
		err := NewConfigurationError("acm", "unexpected keys", "search_term", "batch_size")
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "acm")
		assert.Contains(t, err.Error(), "search_term")
		assert.True(t, IsFatal(err))
	})

	t.Run("transport keeps cause", func(t *testing.T) {
		err := NewTransportError("https://x", 0, "dial failed", context.DeadlineExceeded)
		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, IsFatal(err))
	})

	t.Run("transport temporary", func(t *testing.T) {
		assert.True(t, NewTransportError("u", 0, "", nil).Temporary())
		assert.True(t, NewTransportError("u", 429, "", nil).Temporary())
		assert.True(t, NewTransportError("u", 503, "", nil).Temporary())
		assert.False(t, NewTransportError("u", 404, "", nil).Temporary())
	})

	t.Run("extraction", func(t *testing.T) {
		err := fmt.Errorf("page 2: %w", NewExtractionError("acm", "result__count", "missing"))
		assert.ErrorIs(t, err, ErrExtraction)
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "result__count", ee.Field)
		assert.False(t, IsFatal(err))
	})

	t.Run("store", func(t *testing.T) {
		err := NewStoreError("write", "/tmp/x.json", errors.New("disk full"))
		assert.ErrorIs(t, err, ErrStore)
		assert.Contains(t, err.Error(), "disk full")
		assert.True(t, IsFatal(fmt.Errorf("finalize: %w", err)))
	})
}
