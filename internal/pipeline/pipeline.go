// Package pipeline runs the per-provider harvest: discovery, link file,
// batched enrichment with checkpoints, and the final artifact.
//
// Each provider runs as an independent pipeline that owns its transport.
// A run interrupted during enrichment resumes from its checkpoint: the
// saved link file replaces discovery and completed items are not fetched
// again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-harvester/internal/discovery"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/enrichment"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/providers/acm"
	"github.com/helixir/paper-harvester/internal/providers/ieee"
	"github.com/helixir/paper-harvester/internal/providers/scidirect"
	"github.com/helixir/paper-harvester/internal/store"
	"github.com/helixir/paper-harvester/internal/transport"
)

// ProviderRun describes one provider's job.
type ProviderRun struct {
	// Name is the registry name of the provider.
	Name string

	// Query is the search query, fixed for the whole run.
	Query domain.Query

	// Paths are the link and abstract files.
	Paths store.Paths

	// UseBatches and BatchSize control checkpoint granularity.
	UseBatches bool
	BatchSize  int

	// KeepLinkFile keeps the link file after the artifact is written.
	KeepLinkFile bool

	// Rediscover walks the result pages again even when an unfinished run
	// left a link file behind. New items are appended to the known ones.
	Rediscover bool

	// Policy overrides the adapter's pacing defaults field by field.
	Policy pacing.Policy
}

// TransportOpener opens the transport for one pipeline.
type TransportOpener func(ctx context.Context, rendering bool) (transport.Transport, error)

// OpenWith returns a TransportOpener that builds transports from cfg.
func OpenWith(cfg transport.Config) TransportOpener {
	return func(ctx context.Context, rendering bool) (transport.Transport, error) {
		return transport.Open(ctx, cfg, rendering)
	}
}

// DefaultRegistry returns a registry holding the built-in providers.
func DefaultRegistry() *providers.Registry {
	r := providers.NewRegistry()
	r.Register(acm.Name, func() providers.Adapter { return acm.New(acm.Config{}) })
	r.Register(scidirect.Name, func() providers.Adapter { return scidirect.New(scidirect.Config{}) })
	r.Register(ieee.Name, func() providers.Adapter { return ieee.New(ieee.Config{}) })
	return r
}

// ArtifactSink receives every finished artifact, after it is on disk.
type ArtifactSink interface {
	Publish(ctx context.Context, a *store.Artifact, summary *domain.RunSummary) error
}

// Runner runs provider pipelines.
type Runner struct {
	registry *providers.Registry
	open     TransportOpener
	pacer    *pacing.Pacer
	reporter observability.ProgressReporter
	metrics  *observability.Metrics
	sink     ArtifactSink
	logger   zerolog.Logger
	newRunID func() string
}

// Deps are the Runner's collaborators.
type Deps struct {
	Registry *providers.Registry
	Open     TransportOpener
	Pacer    *pacing.Pacer
	Reporter observability.ProgressReporter
	Metrics  *observability.Metrics
	// Sink optionally mirrors finished artifacts, e.g. into PostgreSQL.
	Sink   ArtifactSink
	Logger zerolog.Logger
}

// New creates a Runner. Nil dependencies get defaults: the built-in
// registry, an automatic transport with default settings, a real pacer and
// no progress reporting.
func New(deps Deps) *Runner {
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Open == nil {
		deps.Open = OpenWith(transport.Config{Kind: transport.KindAuto, Headless: true})
	}
	if deps.Pacer == nil {
		deps.Pacer = pacing.NewPacer()
	}
	if deps.Reporter == nil {
		deps.Reporter = observability.NopReporter{}
	}
	return &Runner{
		registry: deps.Registry,
		open:     deps.Open,
		pacer:    deps.Pacer,
		reporter: deps.Reporter,
		metrics:  deps.Metrics,
		sink:     deps.Sink,
		logger:   deps.Logger,
		newRunID: uuid.NewString,
	}
}

// RunAll runs every job concurrently. Pipelines are independent: a failing
// provider does not stop the others. Summaries are returned in job order;
// the entry of a provider that failed before producing one is nil. The
// error joins every provider's error.
func (r *Runner) RunAll(ctx context.Context, jobs []ProviderRun) ([]*domain.RunSummary, error) {
	summaries := make([]*domain.RunSummary, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			summary, err := r.Run(ctx, job)
			summaries[i] = summary
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", job.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return summaries, errors.Join(errs...)
}

// Run executes one provider pipeline.
//
// Page and item failures are recorded in the summary and never fail the
// run. The returned error is a configuration error, a store error, or the
// context error when ctx is done; in the last case the partial summary is
// returned too and the checkpoint on disk stays valid. A sink failure is
// reported after the artifact file is complete; the link file is kept so
// the next run can publish again.
func (r *Runner) Run(ctx context.Context, job ProviderRun) (summary *domain.RunSummary, err error) {
	start := time.Now()

	adapter, err := r.registry.New(job.Name)
	if err != nil {
		return nil, err
	}
	name := adapter.Name()
	if err := job.Query.Validate(); err != nil {
		return nil, domain.NewConfigurationError(job.Name+".search_term", err.Error())
	}

	fs, err := store.New(name, job.Query, job.Paths, r.logger)
	if err != nil {
		return nil, err
	}
	state, err := fs.LoadPartial(ctx)
	if err != nil {
		return nil, err
	}

	cp := state.Checkpoint
	if cp == nil {
		cp = domain.NewRunCheckpoint(r.newRunID(), name, job.Query)
	}
	summary = &domain.RunSummary{
		RunID:    cp.RunID,
		Provider: name,
		Resumed:  state.Resumable(),
	}

	ctx = observability.WithRun(ctx, cp.RunID, name)
	logger := observability.WithRunContext(r.logger, cp.RunID, name)
	logger.Info().
		Str("query", job.Query.String()).
		Bool("resumed", summary.Resumed).
		Msg("provider run starting")

	r.metrics.RecordRunStarted(name)
	defer func() {
		summary.Duration = time.Since(start)
		if err != nil && !transport.IsCanceled(err) {
			r.metrics.RecordRunFailed(name, summary.Duration.Seconds())
			logger.Error().Err(err).Dur("duration", summary.Duration).Msg("provider run failed")
			return
		}
		r.metrics.RecordRunCompleted(name, summary.Duration.Seconds())
	}()

	tr, err := r.open(ctx, adapter.Rendering())
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := tr.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("closing transport failed")
		}
	}()

	policy := adapter.Policy().Merge(job.Policy)

	items, err := r.collect(ctx, job, adapter, tr, fs, state, policy, summary, logger)
	if err != nil {
		return summary, err
	}

	engine := enrichment.New(enrichment.Deps{
		Adapter:      adapter,
		Transport:    tr,
		Checkpointer: fs,
		Pacer:        r.pacer,
		Policy:       policy,
		Options:      enrichment.Options{UseBatches: job.UseBatches, BatchSize: job.BatchSize},
		Reporter:     r.reporter,
		Metrics:      r.metrics,
		Logger:       logger,
	})
	res, err := engine.Enrich(ctx, items, state.Items, cp)
	if res != nil {
		summary.Enriched = res.Enriched
		summary.FailedItems = res.Failed
		summary.Batches = res.Batches
	}
	if err != nil {
		return summary, err
	}

	artifact, err := fs.Finalize(ctx, cp.RunID, res.Items)
	if err != nil {
		return summary, err
	}
	if r.sink != nil {
		summary.Duration = time.Since(start)
		if err := r.sink.Publish(ctx, artifact, summary); err != nil {
			return summary, err
		}
	}
	if !job.KeepLinkFile {
		if err := fs.RemoveLinks(); err != nil {
			return summary, err
		}
	}

	counts := artifact.Counts()
	r.reporter.Report(observability.ProgressEvent{
		Provider: name,
		Phase:    observability.PhaseFinished,
		Found:    len(items),
		Done:     counts[domain.StatusDone],
		Failed:   counts[domain.StatusFailed],
		Pending:  counts[domain.StatusPending],
		At:       time.Now().UTC(),
	})
	logger.Info().
		Int("discovered", summary.Discovered).
		Int("enriched", summary.Enriched).
		Int("failed_items", len(summary.FailedItems)).
		Ints("failed_pages", summary.FailedPages).
		Msg("provider run finished")

	return summary, nil
}

// collect returns the items to enrich. An unfinished run reuses its link
// file; otherwise the result pages are walked and the link file rewritten.
func (r *Runner) collect(
	ctx context.Context,
	job ProviderRun,
	adapter providers.Adapter,
	tr transport.Transport,
	fs *store.FileStore,
	state *store.State,
	policy pacing.Policy,
	summary *domain.RunSummary,
	logger zerolog.Logger,
) ([]domain.Item, error) {
	var seed *domain.ItemSet
	if state.Resumable() {
		links, found, err := fs.LoadLinks(ctx)
		if err != nil {
			return nil, err
		}
		if found && !job.Rediscover {
			logger.Info().Int("items", len(links)).Msg("reusing link file of unfinished run")
			summary.Discovered = len(links)
			return links, nil
		}
		// Items already known to the unfinished run seed discovery, so
		// only new keys count as discovered.
		seed = domain.NewItemSet(links...)
		for _, item := range state.KnownItems() {
			seed.Add(item)
		}
	}

	engine := discovery.New(discovery.Deps{
		Adapter:   adapter,
		Transport: tr,
		Pacer:     r.pacer,
		Policy:    policy,
		Reporter:  r.reporter,
		Metrics:   r.metrics,
		Logger:    logger,
	})
	res, err := engine.Discover(ctx, job.Query, seed)
	if res != nil {
		summary.Discovered = res.Items.Len()
		summary.NewlyDiscovered = res.Added
		summary.PagesFetched = res.PagesFetched
		summary.FailedPages = res.FailedPages
	}
	if err != nil {
		return nil, err
	}

	items := res.Items.Items()
	if err := fs.SaveLinks(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}
