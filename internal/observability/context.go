package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	runIDKey    contextKey = "run_id"
	providerKey contextKey = "provider"
)

// WithRun adds the run ID and provider name to the context.
func WithRun(ctx context.Context, runID, provider string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	ctx = context.WithValue(ctx, providerKey, provider)
	return ctx
}

// RunFromContext retrieves the run ID and provider from context.
// Returns empty strings if not present.
func RunFromContext(ctx context.Context) (runID, provider string) {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		runID = v
	}
	if v, ok := ctx.Value(providerKey).(string); ok {
		provider = v
	}
	return runID, provider
}
