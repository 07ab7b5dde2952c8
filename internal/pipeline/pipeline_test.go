package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/providers/providertest"
	"github.com/helixir/paper-harvester/internal/store"
	"github.com/helixir/paper-harvester/internal/transport"
)

var testQuery = domain.NewQuery("u-net forests", 2018, 2023)

// siteTransport serves a Site without closing it, so it survives across runs.
type siteTransport struct {
	*providertest.Site
	mu     sync.Mutex
	closes int
}

func (s *siteTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *siteTransport) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type eventLog struct {
	mu     sync.Mutex
	events []observability.ProgressEvent
	hook   func(observability.ProgressEvent)
}

func (l *eventLog) Report(e observability.ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (l *eventLog) count(phase observability.Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

func newTestRunner(sites map[string]*siteTransport, reporter observability.ProgressReporter) *Runner {
	registry := providers.NewRegistry()
	for name, site := range sites {
		site.Name = name
		registry.Register(name, func() providers.Adapter { return site.Adapter() })
	}
	return New(Deps{
		Registry: registry,
		Open: func(ctx context.Context, _ bool) (transport.Transport, error) {
			_, name := observability.RunFromContext(ctx)
			return sites[name], nil
		},
		Pacer:    pacing.NewPacer(pacing.WithoutDelays()),
		Reporter: reporter,
		Logger:   zerolog.Nop(),
	})
}

func testJob(t *testing.T, name string) ProviderRun {
	dir := t.TempDir()
	return ProviderRun{
		Name:  name,
		Query: testQuery,
		Paths: store.Paths{
			Links:     filepath.Join(dir, name+"_links.json"),
			Abstracts: filepath.Join(dir, name+"_abs.json"),
		},
		UseBatches: true,
		BatchSize:  20,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 50, 50, 7)}
	events := &eventLog{}
	r := newTestRunner(map[string]*siteTransport{"stub": site}, events)
	job := testJob(t, "stub")

	summary, err := r.Run(context.Background(), job)
	require.NoError(t, err)

	assert.False(t, summary.Resumed)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 107, summary.Discovered)
	assert.Equal(t, 107, summary.NewlyDiscovered)
	assert.Equal(t, 3, summary.PagesFetched)
	assert.Empty(t, summary.FailedPages)
	assert.Equal(t, 107, summary.Enriched)
	assert.Empty(t, summary.FailedItems)
	assert.Equal(t, 6, summary.Batches)
	assert.Equal(t, 6, events.count(observability.PhaseEnrichment), "one checkpoint per batch")
	assert.Equal(t, 1, events.count(observability.PhaseFinished))

	assert.Equal(t, 3, site.SearchFetches())
	assert.Equal(t, 107, site.ItemFetches())
	assert.Equal(t, 1, site.closeCount())

	artifact, err := store.LoadArtifact(job.Paths.Abstracts)
	require.NoError(t, err)
	assert.True(t, artifact.Matches("stub", testQuery))
	assert.Equal(t, summary.RunID, artifact.RunID)
	require.Len(t, artifact.Items, 107)
	assert.Equal(t, "Abstract of item-0106", *artifact.Items["item-0106"].Abstract)

	_, err = os.Stat(job.Paths.Partial())
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial file removed")
	_, err = os.Stat(job.Paths.Links)
	assert.True(t, errors.Is(err, os.ErrNotExist), "link file removed unless kept")
}

func TestRun_KeepLinkFile(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 3)}
	r := newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	job := testJob(t, "stub")
	job.KeepLinkFile = true

	_, err := r.Run(context.Background(), job)
	require.NoError(t, err)

	_, err = os.Stat(job.Paths.Links)
	assert.NoError(t, err)
}

func TestRun_ItemFailuresDoNotFailRun(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 5)}
	site.FailItem("item-0002", -1)
	r := newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	job := testJob(t, "stub")

	summary, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Enriched)
	assert.Equal(t, []string{"item-0002"}, summary.FailedItems)

	artifact, err := store.LoadArtifact(job.Paths.Abstracts)
	require.NoError(t, err)
	failed := artifact.Items["item-0002"]
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Nil(t, failed.Abstract)
}

func TestRun_ResumesAfterInterruption(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 50, 50, 7)}
	job := testJob(t, "stub")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := &eventLog{hook: func(e observability.ProgressEvent) {
		if e.Phase == observability.PhaseEnrichment && e.Batch == 2 {
			cancel()
		}
	}}
	first, err := newTestRunner(map[string]*siteTransport{"stub": site}, events).Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, first)
	assert.Equal(t, 40, first.Enriched)
	assert.Equal(t, 40, site.ItemFetches())
	assert.Equal(t, 1, site.closeCount(), "transport closed on interruption")

	_, err = os.Stat(job.Paths.Partial())
	require.NoError(t, err, "checkpoint left on disk")
	_, err = os.Stat(job.Paths.Abstracts)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	second, err := newTestRunner(map[string]*siteTransport{"stub": site}, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, 107, second.Discovered)
	assert.Equal(t, 67, second.Enriched)
	assert.Equal(t, 3, site.SearchFetches(), "discovery not repeated")
	assert.Equal(t, 107, site.ItemFetches(), "no item fetched twice")

	artifact, err := store.LoadArtifact(job.Paths.Abstracts)
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 107)
	assert.Equal(t, 107, artifact.Counts()[domain.StatusDone])
}

func TestRun_ResumeWithoutLinkFileMergesKnownItems(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 50, 50, 7)}
	job := testJob(t, "stub")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := &eventLog{hook: func(e observability.ProgressEvent) {
		if e.Phase == observability.PhaseEnrichment && e.Batch == 2 {
			cancel()
		}
	}}
	_, err := newTestRunner(map[string]*siteTransport{"stub": site}, events).Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, os.Remove(job.Paths.Links))

	second, err := newTestRunner(map[string]*siteTransport{"stub": site}, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, 107, second.Discovered)
	assert.Zero(t, second.NewlyDiscovered, "items of the unfinished run are not new")
	assert.Equal(t, 6, site.SearchFetches(), "result pages walked again")
	assert.Equal(t, 107, site.ItemFetches(), "no item fetched twice")

	artifact, err := store.LoadArtifact(job.Paths.Abstracts)
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 107)
	assert.Equal(t, 107, artifact.Counts()[domain.StatusDone])
}

func TestRun_RerunAfterCompletionSkipsDoneItems(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 10)}
	site.FailItem("item-0004", 3)
	job := testJob(t, "stub")
	job.KeepLinkFile = true

	first, err := newTestRunner(map[string]*siteTransport{"stub": site}, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{"item-0004"}, first.FailedItems)
	itemFetches := site.ItemFetches()

	second, err := newTestRunner(map[string]*siteTransport{"stub": site}, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, second.Resumed)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, second.Enriched, "only the earlier failure is retried")
	assert.Equal(t, itemFetches+1, site.ItemFetches())
}

type recordingSink struct {
	mu        sync.Mutex
	artifacts []*store.Artifact
	summaries []domain.RunSummary
	err       error
}

func (s *recordingSink) Publish(_ context.Context, a *store.Artifact, summary *domain.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.artifacts = append(s.artifacts, a)
	s.summaries = append(s.summaries, *summary)
	return nil
}

func TestRun_PublishesArtifactToSink(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 5)}
	sink := &recordingSink{}
	r := newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	r.sink = sink
	job := testJob(t, "stub")

	summary, err := r.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, sink.artifacts, 1)
	assert.Equal(t, summary.RunID, sink.artifacts[0].RunID)
	assert.Len(t, sink.artifacts[0].Items, 5)
	assert.Equal(t, 5, sink.summaries[0].Enriched)
	assert.Equal(t, "stub", sink.summaries[0].Provider)
}

func TestRun_SinkFailureKeepsArtifactAndLinks(t *testing.T) {
	site := &siteTransport{Site: providertest.NewSite(50, 5)}
	job := testJob(t, "stub")

	broken := &recordingSink{err: domain.NewStoreError("mirror artifact", "postgres", errors.New("connection refused"))}
	r := newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	r.sink = broken

	_, err := r.Run(context.Background(), job)
	require.ErrorIs(t, err, domain.ErrStore)

	artifact, err := store.LoadArtifact(job.Paths.Abstracts)
	require.NoError(t, err)
	assert.Len(t, artifact.Items, 5)
	_, err = os.Stat(job.Paths.Links)
	assert.NoError(t, err, "link file kept for the next attempt")

	sink := &recordingSink{}
	r = newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	r.sink = sink

	summary, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Zero(t, summary.Enriched, "done items are not fetched again")
	require.Len(t, sink.artifacts, 1)
	assert.Len(t, sink.artifacts[0].Items, 5)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	r := newTestRunner(map[string]*siteTransport{}, nil)

	_, err := r.Run(context.Background(), testJob(t, "nope"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	site := &siteTransport{Site: providertest.NewSite(50, 1)}
	r = newTestRunner(map[string]*siteTransport{"stub": site}, nil)
	job := testJob(t, "stub")
	job.Query = domain.NewQuery("  ", 0, 0)
	_, err = r.Run(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, site.Fetches())
}

func TestRun_TransportOpenFailure(t *testing.T) {
	registry := providers.NewRegistry()
	site := providertest.NewSite(50, 1)
	registry.Register("stub", func() providers.Adapter { return site.Adapter() })
	r := New(Deps{
		Registry: registry,
		Open: func(context.Context, bool) (transport.Transport, error) {
			return nil, domain.NewConfigurationError("binary_location", "chrome not found")
		},
		Logger: zerolog.Nop(),
	})

	summary, err := r.Run(context.Background(), testJob(t, "stub"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Enriched)
}

func TestRunAll_ProvidersAreIndependent(t *testing.T) {
	good := &siteTransport{Site: providertest.NewSite(50, 50, 12)}
	other := &siteTransport{Site: providertest.NewSite(25, 25, 25, 3)}
	r := newTestRunner(map[string]*siteTransport{"good": good, "other": other}, nil)

	broken := testJob(t, "broken")
	summaries, err := r.RunAll(context.Background(), []ProviderRun{
		testJob(t, "good"),
		broken,
		testJob(t, "other"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "broken:")

	require.Len(t, summaries, 3)
	require.NotNil(t, summaries[0])
	assert.Equal(t, "good", summaries[0].Provider)
	assert.Equal(t, 62, summaries[0].Enriched)
	assert.Nil(t, summaries[1])
	require.NotNil(t, summaries[2])
	assert.Equal(t, 53, summaries[2].Enriched)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"acm", "ieee", "scidir"}, r.Names())

	for _, name := range r.Names() {
		adapter, err := r.New(name)
		require.NoError(t, err)
		assert.Equal(t, name, adapter.Name())
	}
}
