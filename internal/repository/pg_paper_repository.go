package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-harvester/internal/domain"
)

// PgPaperRepository implements PaperRepository on PostgreSQL.
type PgPaperRepository struct {
	db DBTX
}

// Compile-time check that PgPaperRepository implements PaperRepository.
var _ PaperRepository = (*PgPaperRepository)(nil)

// NewPgPaperRepository creates a repository on db.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

const saveRunQuery = `
	INSERT INTO harvest_runs (
		run_id, provider, query_text, year_from, year_to,
		resumed, discovered, pages_fetched, failed_pages,
		enriched, failed_items, batches, duration_ms, finished_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
	)
	ON CONFLICT (run_id) DO UPDATE SET
		resumed = EXCLUDED.resumed,
		discovered = EXCLUDED.discovered,
		pages_fetched = EXCLUDED.pages_fetched,
		failed_pages = EXCLUDED.failed_pages,
		enriched = EXCLUDED.enriched,
		failed_items = EXCLUDED.failed_items,
		batches = EXCLUDED.batches,
		duration_ms = EXCLUDED.duration_ms,
		finished_at = EXCLUDED.finished_at`

// SaveRun inserts or replaces a run row.
func (r *PgPaperRepository) SaveRun(ctx context.Context, run RunRecord) error {
	if run.RunID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	if run.Provider == "" {
		return fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}

	var yearFrom, yearTo *int
	if run.Query.Years != nil {
		yearFrom, yearTo = &run.Query.Years.From, &run.Query.Years.To
	}
	failedPages := run.FailedPages
	if failedPages == nil {
		failedPages = []int{}
	}

	_, err := r.db.Exec(ctx, saveRunQuery,
		run.RunID,
		run.Provider,
		run.Query.Text,
		yearFrom,
		yearTo,
		run.Resumed,
		run.Discovered,
		run.PagesFetched,
		failedPages,
		run.Enriched,
		run.FailedItems,
		run.Batches,
		run.Duration.Milliseconds(),
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

const upsertPaperQuery = `
	INSERT INTO harvested_papers (
		provider, item_key, run_id, external_id, title,
		published_on, kind, source_link, discovered_at_page,
		status, abstract, keywords, error, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)
	ON CONFLICT (provider, item_key) DO UPDATE SET
		run_id = EXCLUDED.run_id,
		external_id = EXCLUDED.external_id,
		title = EXCLUDED.title,
		published_on = EXCLUDED.published_on,
		kind = EXCLUDED.kind,
		source_link = EXCLUDED.source_link,
		discovered_at_page = EXCLUDED.discovered_at_page,
		status = CASE
			WHEN harvested_papers.status = 'done' AND EXCLUDED.status <> 'done' THEN harvested_papers.status
			ELSE EXCLUDED.status
		END,
		abstract = COALESCE(EXCLUDED.abstract, harvested_papers.abstract),
		keywords = CASE
			WHEN cardinality(EXCLUDED.keywords) > 0 THEN EXCLUDED.keywords
			ELSE harvested_papers.keywords
		END,
		error = CASE
			WHEN harvested_papers.status = 'done' AND EXCLUDED.status <> 'done' THEN harvested_papers.error
			ELSE EXCLUDED.error
		END,
		updated_at = EXCLUDED.updated_at`

// UpsertPapers writes items in a single batch round trip.
func (r *PgPaperRepository) UpsertPapers(ctx context.Context, provider, runID string, items []domain.EnrichedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if provider == "" {
		return 0, fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i, item := range items {
		key := item.Key()
		if key == "" {
			return 0, fmt.Errorf("%w: item at index %d has neither id nor source link", domain.ErrInvalidInput, i)
		}
		keywords := item.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		batch.Queue(upsertPaperQuery,
			provider,
			key,
			runID,
			item.ID,
			item.Title,
			item.PublishedOn,
			item.Kind,
			item.SourceLink,
			item.DiscoveredAtPage,
			string(item.Status),
			item.Abstract,
			keywords,
			item.Error,
			now,
			now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range items {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("failed to upsert paper %s: %w", items[i].Key(), err)
		}
	}
	return len(items), nil
}

const paperColumns = `
	external_id, title, published_on, kind, source_link,
	discovered_at_page, status, abstract, keywords, error`

// List returns the papers matching filter.
func (r *PgPaperRepository) List(ctx context.Context, filter PaperFilter) ([]domain.EnrichedItem, int64, error) {
	if filter.Provider == "" {
		return nil, 0, fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	conditions := []string{"provider = $1"}
	args := []interface{}{filter.Provider}
	if filter.Status != "" {
		conditions = append(conditions, "status = $2")
		args = append(args, string(filter.Status))
	}
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM harvested_papers " + whereClause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count papers: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM harvested_papers
		%s
		ORDER BY discovered_at_page, item_key
		LIMIT $%d OFFSET $%d`,
		paperColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	items := make([]domain.EnrichedItem, 0, min(filter.Limit, int(total)))
	for rows.Next() {
		item, err := scanPaper(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan paper: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating papers: %w", err)
	}
	return items, total, nil
}

// CountByStatus returns the number of provider's papers per status.
func (r *PgPaperRepository) CountByStatus(ctx context.Context, provider string) (map[domain.EnrichmentStatus]int, error) {
	rows, err := r.db.Query(ctx,
		"SELECT status, COUNT(*) FROM harvested_papers WHERE provider = $1 GROUP BY status",
		provider)
	if err != nil {
		return nil, fmt.Errorf("failed to count papers by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EnrichmentStatus]int, 3)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.EnrichmentStatus(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func scanPaper(row pgx.Row) (domain.EnrichedItem, error) {
	var (
		item     domain.EnrichedItem
		status   string
		abstract *string
		keywords []string
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.PublishedOn, &item.Kind, &item.SourceLink,
		&item.DiscoveredAtPage, &status, &abstract, &keywords, &item.Error,
	)
	if err != nil {
		return domain.EnrichedItem{}, err
	}
	item.Status = domain.EnrichmentStatus(status)
	item.Abstract = abstract
	if len(keywords) > 0 {
		item.Keywords = keywords
	}
	return item, nil
}
