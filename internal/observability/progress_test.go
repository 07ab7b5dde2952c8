package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker(t *testing.T) {
	tr := NewProgressTracker()
	tr.Report(ProgressEvent{Provider: "scidir", Phase: PhaseDiscovery, Page: 1, TotalPages: 3})
	tr.Report(ProgressEvent{Provider: "acm", Phase: PhaseDiscovery, Page: 1, TotalPages: 2})
	tr.Report(ProgressEvent{Provider: "acm", Phase: PhaseEnrichment, Batch: 1, TotalBatches: 4})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "acm", snap[0].Provider)
	assert.Equal(t, PhaseEnrichment, snap[0].Phase)
	assert.False(t, snap[0].At.IsZero())
	assert.Equal(t, "scidir", snap[1].Provider)
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(NewLoggerWithWriter(LoggingConfig{Format: "json"}, &buf))

	r.Report(ProgressEvent{Provider: "acm", Phase: PhaseDiscovery, Page: 2, TotalPages: 3, Found: 100})
	assert.Contains(t, buf.String(), "reading page 2 of 3")

	buf.Reset()
	r.Report(ProgressEvent{Provider: "acm", Phase: PhaseEnrichment, Batch: 1, TotalBatches: 6, Done: 20})
	assert.Contains(t, buf.String(), "batch 1 of 6 written")

	buf.Reset()
	r.Report(ProgressEvent{Provider: "acm", Phase: PhaseFinished})
	assert.Contains(t, buf.String(), "run finished")
}

func TestMultiReporter(t *testing.T) {
	var got []string
	m := MultiReporter{
		ReporterFunc(func(e ProgressEvent) { got = append(got, "a:"+e.Provider) }),
		nil,
		NopReporter{},
		ReporterFunc(func(e ProgressEvent) { got = append(got, "b:"+e.Provider) }),
	}
	m.Report(ProgressEvent{Provider: "ieee"})
	assert.Equal(t, []string{"a:ieee", "b:ieee"}, got)
}
