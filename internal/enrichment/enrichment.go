// Package enrichment fetches each discovered item's detail page and reads
// its abstract and keywords.
//
// Items are processed in batches. After every batch the accumulated results
// and the run checkpoint are handed to a Checkpointer, so an interrupted run
// resumes at the first unfinished batch. Items already completed in the
// checkpoint are never fetched again. A failing item is recorded as failed
// with an absent abstract and the batch carries on.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

// Checkpointer persists enrichment progress.
type Checkpointer interface {
	// SaveBatch durably stores results and cp. It is called once per
	// completed batch and must replace any earlier checkpoint.
	SaveBatch(ctx context.Context, results map[string]domain.EnrichedItem, cp *domain.RunCheckpoint) error
}

// Options control batching.
type Options struct {
	// UseBatches splits the work into batches of BatchSize.
	// Without batching the whole item list is one batch.
	UseBatches bool

	// BatchSize is the number of items per batch.
	BatchSize int
}

// Result is the outcome of one enrichment run.
type Result struct {
	// Items maps every item key to its enrichment outcome. It includes
	// entries carried over from earlier runs.
	Items map[string]domain.EnrichedItem

	// Checkpoint is the final run checkpoint.
	Checkpoint *domain.RunCheckpoint

	// Enriched counts items that reached done in this run.
	Enriched int

	// Failed lists the keys of items that failed in this run.
	Failed []string

	// Skipped counts items not fetched because they were already complete.
	Skipped int

	// Batches counts checkpoints written in this run.
	Batches int
}

// Engine runs enrichment for one provider.
type Engine struct {
	adapter      providers.Adapter
	transport    transport.Transport
	checkpointer Checkpointer
	pacer        *pacing.Pacer
	policy       pacing.Policy
	options      Options
	reporter     observability.ProgressReporter
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// Deps are the Engine's collaborators.
type Deps struct {
	Adapter      providers.Adapter
	Transport    transport.Transport
	Checkpointer Checkpointer
	Pacer        *pacing.Pacer
	Policy       pacing.Policy
	Options      Options
	Reporter     observability.ProgressReporter
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// New creates an enrichment Engine. A nil Pacer or Reporter gets a default.
func New(deps Deps) *Engine {
	if deps.Pacer == nil {
		deps.Pacer = pacing.NewPacer()
	}
	if deps.Reporter == nil {
		deps.Reporter = observability.NopReporter{}
	}
	return &Engine{
		adapter:      deps.Adapter,
		transport:    deps.Transport,
		checkpointer: deps.Checkpointer,
		pacer:        deps.Pacer,
		policy:       deps.Policy,
		options:      deps.Options,
		reporter:     deps.Reporter,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With().Str("component", "enrichment").Logger(),
	}
}

// Enrich processes every item not yet complete.
//
// existing holds results from earlier runs: items already done there are
// skipped, while failed ones are retried unless cp marks them complete.
// cp is updated in place. A Checkpointer failure aborts the run with a
// store error. On cancellation the items finished so far are checkpointed
// before the context error is returned.
func (e *Engine) Enrich(ctx context.Context, items []domain.Item, existing map[string]domain.EnrichedItem, cp *domain.RunCheckpoint) (*Result, error) {
	if cp == nil {
		return nil, fmt.Errorf("%w: enrichment needs a run checkpoint", domain.ErrInvalidInput)
	}

	res := &Result{
		Items:      make(map[string]domain.EnrichedItem, len(items)+len(existing)),
		Checkpoint: cp,
	}
	for key, item := range existing {
		res.Items[key] = item
	}

	pending := e.pending(items, res)
	batches := e.split(pending)
	total := len(batches)

	e.logger.Info().
		Int("items", len(items)).
		Int("pending", len(pending)).
		Int("skipped", res.Skipped).
		Int("batches", total).
		Msg("enrichment starting")

	first := true
	for b, batch := range batches {
		for _, item := range batch {
			if err := ctx.Err(); err != nil {
				return res, e.interrupt(ctx, res, err)
			}
			if !first {
				if err := e.pacer.Pause(ctx, e.policy.ItemDelay); err != nil {
					return res, e.interrupt(ctx, res, err)
				}
			}
			first = false

			enriched, err := e.enrichOne(ctx, item)
			if err != nil {
				return res, e.interrupt(ctx, res, err)
			}
			e.record(res, item, enriched)
		}

		cp.LastBatchIndex++
		if err := e.save(ctx, res); err != nil {
			return res, err
		}
		res.Batches++
		e.reporter.Report(observability.ProgressEvent{
			Provider:     e.adapter.Name(),
			Phase:        observability.PhaseEnrichment,
			Batch:        b + 1,
			TotalBatches: total,
			Found:        len(items),
			Done:         res.Enriched,
			Failed:       len(res.Failed),
			Pending:      len(pending) - res.Enriched - len(res.Failed),
			At:           time.Now().UTC(),
		})
	}

	return res, nil
}

// pending returns the items that still need a fetch and seeds res with a
// pending entry for each of them.
func (e *Engine) pending(items []domain.Item, res *Result) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := item.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		prior, known := res.Items[key]
		if res.Checkpoint.Completed(key) || (known && prior.Status == domain.StatusDone) {
			res.Skipped++
			continue
		}
		if !known {
			res.Items[key] = domain.NewPendingItem(item)
		}
		out = append(out, item)
	}
	return out
}

// split cuts items into batches.
func (e *Engine) split(items []domain.Item) [][]domain.Item {
	if len(items) == 0 {
		return nil
	}
	size := len(items)
	if e.options.UseBatches && e.options.BatchSize > 0 {
		size = e.options.BatchSize
	}
	batches := make([][]domain.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// enrichOne fetches and parses one detail page. Only cancellation is
// returned as an error; every other failure becomes a failed item.
func (e *Engine) enrichOne(ctx context.Context, item domain.Item) (domain.EnrichedItem, error) {
	logger := observability.WithItemContext(e.logger, item.Key(), item.SourceLink)
	req := e.adapter.BuildEnrichmentRequest(item)

	var enrichment domain.Enrichment
	err := e.pacer.Retry(ctx, e.policy, func(ctx context.Context) error {
		start := time.Now()
		page, err := e.transport.Fetch(ctx, req)
		e.metrics.RecordFetch(e.adapter.Name(), string(observability.PhaseEnrichment), time.Since(start).Seconds())
		if err != nil {
			return err
		}
		enrichment, err = e.adapter.ExtractEnrichment(page)
		return err
	}, func(attempt uint, err error) {
		e.metrics.RecordRetry(e.adapter.Name(), string(observability.PhaseEnrichment))
		logger.Debug().Err(err).Uint("attempt", attempt).Msg("retrying detail page")
	})

	if err != nil {
		if ctx.Err() != nil && transport.IsCanceled(err) {
			return domain.EnrichedItem{}, ctx.Err()
		}
		logger.Warn().Err(err).Msg("enrichment failed")
		return domain.NewFailedItem(item, err), nil
	}
	return domain.NewEnrichedItem(item, enrichment), nil
}

func (e *Engine) record(res *Result, item domain.Item, enriched domain.EnrichedItem) {
	key := item.Key()
	res.Items[key] = enriched
	res.Checkpoint.MarkCompleted(key)
	if enriched.Status == domain.StatusDone {
		res.Enriched++
	} else {
		res.Failed = append(res.Failed, key)
	}
	e.metrics.RecordItem(e.adapter.Name(), string(enriched.Status))
}

func (e *Engine) save(ctx context.Context, res *Result) error {
	res.Checkpoint.UpdatedAt = time.Now().UTC()
	if e.checkpointer == nil {
		return nil
	}
	if err := e.checkpointer.SaveBatch(ctx, res.Items, res.Checkpoint); err != nil {
		if !errors.Is(err, domain.ErrStore) {
			err = domain.NewStoreError("save batch", "", err)
		}
		return err
	}
	e.metrics.RecordCheckpoint(e.adapter.Name())
	return nil
}

// interrupt checkpoints a partially finished batch before returning cause.
func (e *Engine) interrupt(ctx context.Context, res *Result, cause error) error {
	if len(res.Checkpoint.CompletedItemIDs) == 0 {
		return cause
	}
	if err := e.save(context.WithoutCancel(ctx), res); err != nil {
		e.logger.Error().Err(err).Msg("saving checkpoint after interruption failed")
		return errors.Join(cause, err)
	}
	e.logger.Info().Int("completed", len(res.Checkpoint.CompletedItemIDs)).Msg("enrichment interrupted; progress saved")
	return cause
}
