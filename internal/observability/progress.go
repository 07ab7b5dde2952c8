package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase names a stage of a provider run.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseEnrichment Phase = "enrichment"
	PhaseFinished   Phase = "finished"
)

// ProgressEvent is a snapshot of a provider run's progress.
type ProgressEvent struct {
	Provider     string    `json:"provider"`
	Phase        Phase     `json:"phase"`
	State        string    `json:"state,omitempty"`
	Page         int       `json:"page,omitempty"`
	TotalPages   int       `json:"total_pages,omitempty"`
	Found        int       `json:"found"`
	Batch        int       `json:"batch,omitempty"`
	TotalBatches int       `json:"total_batches,omitempty"`
	Done         int       `json:"done"`
	Failed       int       `json:"failed"`
	Pending      int       `json:"pending"`
	At           time.Time `json:"at"`
}

// ProgressReporter receives progress events. Implementations must be safe
// for concurrent use; every provider pipeline reports to the same reporter.
type ProgressReporter interface {
	Report(ProgressEvent)
}

// ReporterFunc adapts a function to ProgressReporter.
type ReporterFunc func(ProgressEvent)

// Report calls f(e).
func (f ReporterFunc) Report(e ProgressEvent) {
	f(e)
}

// NopReporter discards events.
type NopReporter struct{}

// Report does nothing.
func (NopReporter) Report(ProgressEvent) {}

// MultiReporter fans events out to several reporters.
type MultiReporter []ProgressReporter

// Report forwards e to every reporter.
func (m MultiReporter) Report(e ProgressEvent) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// LogReporter writes progress events as log lines.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "progress").Logger()}
}

// Report logs e.
func (r *LogReporter) Report(e ProgressEvent) {
	ev := r.logger.Info().
		Str("provider", e.Provider).
		Str("phase", string(e.Phase))
	switch e.Phase {
	case PhaseDiscovery:
		ev.Str("state", e.State).
			Int("page", e.Page).
			Int("total_pages", e.TotalPages).
			Int("found", e.Found).
			Msgf("reading page %d of %d", e.Page, e.TotalPages)
	case PhaseEnrichment:
		ev.Int("batch", e.Batch).
			Int("total_batches", e.TotalBatches).
			Int("done", e.Done).
			Int("failed", e.Failed).
			Int("pending", e.Pending).
			Msgf("batch %d of %d written", e.Batch, e.TotalBatches)
	default:
		ev.Int("found", e.Found).
			Int("done", e.Done).
			Int("failed", e.Failed).
			Msg("run finished")
	}
}

// ProgressTracker keeps the latest event of every provider.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu     sync.RWMutex
	latest map[string]ProgressEvent
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{latest: make(map[string]ProgressEvent)}
}

// Report stores e as the provider's latest event.
func (t *ProgressTracker) Report(e ProgressEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[e.Provider] = e
}

// Snapshot returns the latest events sorted by provider.
func (t *ProgressTracker) Snapshot() []ProgressEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProgressEvent, 0, len(t.latest))
	for _, e := range t.latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
