package repository

import (
	"context"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
)

// RunRecord is one provider run as stored in harvest_runs.
type RunRecord struct {
	RunID        string
	Provider     string
	Query        domain.Query
	Resumed      bool
	Discovered   int
	PagesFetched int
	FailedPages  []int
	Enriched     int
	FailedItems  int
	Batches      int
	Duration     time.Duration
	FinishedAt   time.Time
}

// NewRunRecord builds a RunRecord from a run summary.
func NewRunRecord(s *domain.RunSummary, q domain.Query, finishedAt time.Time) RunRecord {
	return RunRecord{
		RunID:        s.RunID,
		Provider:     s.Provider,
		Query:        q,
		Resumed:      s.Resumed,
		Discovered:   s.Discovered,
		PagesFetched: s.PagesFetched,
		FailedPages:  s.FailedPages,
		Enriched:     s.Enriched,
		FailedItems:  len(s.FailedItems),
		Batches:      s.Batches,
		Duration:     s.Duration,
		FinishedAt:   finishedAt,
	}
}

// PaperFilter selects stored papers.
type PaperFilter struct {
	// Provider is required.
	Provider string
	// Status restricts the result to one enrichment status when set.
	Status domain.EnrichmentStatus
	Limit  int
	Offset int
}

// PaperRepository stores harvested papers and the runs that produced them.
type PaperRepository interface {
	// SaveRun inserts or replaces a run row.
	SaveRun(ctx context.Context, run RunRecord) error

	// UpsertPapers writes items for provider, tagging new and changed rows
	// with runID. It returns the number of rows written.
	UpsertPapers(ctx context.Context, provider, runID string, items []domain.EnrichedItem) (int, error)

	// List returns the papers matching filter in discovery order together
	// with the total number of matches.
	List(ctx context.Context, filter PaperFilter) ([]domain.EnrichedItem, int64, error)

	// CountByStatus returns the number of provider's papers per status.
	CountByStatus(ctx context.Context, provider string) (map[domain.EnrichmentStatus]int, error)
}
