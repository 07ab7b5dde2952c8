// Package discovery enumerates a provider's search results.
//
// The engine probes the first results page, reads the total count to
// decide how many pages exist, and walks them in order. Items are merged
// into an ItemSet so duplicates across pages, and items already known from
// an earlier run, are kept once. A page that still fails after retries is
// recorded and skipped; it never aborts discovery.
package discovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

// State is a discovery state.
type State string

const (
	StateInit       State = "init"
	StateProbe      State = "probe"
	StateSinglePage State = "single_page"
	StateMultiPage  State = "multi_page"
	StateDone       State = "done"
)

// Result is the outcome of one discovery run.
type Result struct {
	// Items holds the seed items followed by newly discovered ones.
	Items *domain.ItemSet

	// Estimate is the page outlook read from the probe page.
	Estimate providers.PageEstimate

	// PagesFetched counts results pages fetched and parsed.
	PagesFetched int

	// FailedPages lists the zero-based indexes of pages given up on.
	FailedPages []int

	// Added counts items not present in the seed.
	Added int
}

// Engine runs discovery for one provider.
type Engine struct {
	adapter   providers.Adapter
	transport transport.Transport
	pacer     *pacing.Pacer
	policy    pacing.Policy
	reporter  observability.ProgressReporter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// Deps are the Engine's collaborators.
type Deps struct {
	Adapter   providers.Adapter
	Transport transport.Transport
	Pacer     *pacing.Pacer
	Policy    pacing.Policy
	Reporter  observability.ProgressReporter
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// New creates a discovery Engine. A nil Pacer or Reporter gets a default.
func New(deps Deps) *Engine {
	if deps.Pacer == nil {
		deps.Pacer = pacing.NewPacer()
	}
	if deps.Reporter == nil {
		deps.Reporter = observability.NopReporter{}
	}
	return &Engine{
		adapter:   deps.Adapter,
		transport: deps.Transport,
		pacer:     deps.Pacer,
		policy:    deps.Policy,
		reporter:  deps.Reporter,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "discovery").Logger(),
	}
}

// Discover enumerates every results page of q and merges the items into
// seed, which may be nil.
//
// The returned error is non-nil only when ctx is done; the partial result
// is returned alongside it.
func (e *Engine) Discover(ctx context.Context, q domain.Query, seed *domain.ItemSet) (*Result, error) {
	if seed == nil {
		seed = domain.NewItemSet()
	}
	res := &Result{Items: seed}
	name := e.adapter.Name()

	e.report(StateInit, res, 0)

	e.report(StateProbe, res, 1)
	cursor := e.adapter.FirstCursor()
	probe, err := e.fetch(ctx, e.adapter.BuildQuery(q), 0)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.logger.Error().Err(err).Str("provider", name).Msg("probe page failed; nothing discovered")
		e.failPage(res, 0)
		e.report(StateDone, res, 0)
		return res, nil
	}

	estimate, err := e.adapter.HasMorePages(probe)
	if err != nil {
		e.logger.Warn().Err(err).Str("provider", name).Msg("cannot read result count; treating as a single page")
		estimate = providers.PageEstimate{Pages: 1}
	}
	res.Estimate = estimate

	if estimate.Total == 0 && estimate.Pages == 0 {
		e.logger.Info().Str("provider", name).Str("query", q.String()).Msg("search returned no results")
		res.PagesFetched = 1
		e.report(StateDone, res, 0)
		return res, nil
	}

	if !estimate.HasMore() {
		res.Estimate.Pages = 1
		e.report(StateSinglePage, res, 1)
		e.extract(res, probe, 0)
		e.report(StateDone, res, 1)
		return res, nil
	}

	for i := 0; i < estimate.Pages; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page := probe
		if i > 0 {
			cursor = e.adapter.Advance(cursor)
			if err := e.pacer.Pause(ctx, e.policy.PageDelay); err != nil {
				return res, err
			}
			page, err = e.fetch(ctx, e.adapter.PageRequest(q, cursor), i)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				e.logger.Warn().Err(err).Str("provider", name).Int("page", i).Msg("results page failed; skipping")
				e.failPage(res, i)
				e.report(StateMultiPage, res, i+1)
				continue
			}
		}

		e.extract(res, page, i)
		e.report(StateMultiPage, res, i+1)
	}

	e.report(StateDone, res, estimate.Pages)
	return res, nil
}

// fetch retrieves one results page with the provider's retry policy.
func (e *Engine) fetch(ctx context.Context, req transport.Request, index int) (*transport.Page, error) {
	var page *transport.Page
	err := e.pacer.Retry(ctx, e.policy, func(ctx context.Context) error {
		start := time.Now()
		p, err := e.transport.Fetch(ctx, req)
		e.metrics.RecordFetch(e.adapter.Name(), string(observability.PhaseDiscovery), time.Since(start).Seconds())
		if err != nil {
			return err
		}
		page = p
		return nil
	}, func(attempt uint, err error) {
		e.metrics.RecordRetry(e.adapter.Name(), string(observability.PhaseDiscovery))
		e.logger.Debug().Err(err).Int("page", index).Uint("attempt", attempt).Msg("retrying results page")
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// extract merges a page's items into the result.
func (e *Engine) extract(res *Result, page *transport.Page, index int) {
	items, err := e.adapter.ExtractItems(page, index)
	if err != nil {
		e.logger.Warn().Err(err).Int("page", index).Msg("results page has unexpected structure; skipping")
		e.failPage(res, index)
		return
	}

	added := 0
	for _, item := range items {
		if res.Items.Add(item) {
			added++
		}
	}
	res.Added += added
	res.PagesFetched++
	e.metrics.RecordPage(e.adapter.Name(), true, added)
	e.logger.Debug().Int("page", index).Int("items", len(items)).Int("new", added).Msg("results page read")
}

func (e *Engine) failPage(res *Result, index int) {
	res.FailedPages = append(res.FailedPages, index)
	e.metrics.RecordPage(e.adapter.Name(), false, 0)
}

func (e *Engine) report(state State, res *Result, page int) {
	e.reporter.Report(observability.ProgressEvent{
		Provider:   e.adapter.Name(),
		Phase:      observability.PhaseDiscovery,
		State:      string(state),
		Page:       page,
		TotalPages: res.Estimate.Pages,
		Found:      res.Items.Len(),
		At:         time.Now().UTC(),
	})
}
