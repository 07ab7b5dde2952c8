package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/store"
)

// Transactor runs a function inside a transaction. *database.DB satisfies it.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context, fn func(tx pgx.Tx) error) error

// WithTransaction calls f(ctx, fn).
func (f TransactorFunc) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return f(ctx, fn)
}

// Sink mirrors finished artifacts into PostgreSQL.
type Sink struct {
	db     Transactor
	logger zerolog.Logger
	now    func() time.Time
}

// NewSink creates a Sink writing through db.
func NewSink(db Transactor, logger zerolog.Logger) *Sink {
	return &Sink{
		db:     db,
		logger: logger.With().Str("component", "artifact_sink").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish writes the run summary and every artifact item in one
// transaction. Failures are StoreErrors.
func (s *Sink) Publish(ctx context.Context, a *store.Artifact, summary *domain.RunSummary) error {
	run := NewRunRecord(summary, a.Query, s.now())
	items := a.Ordered()

	var written int
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		repo := NewPgPaperRepository(tx)
		if err := repo.SaveRun(ctx, run); err != nil {
			return err
		}
		n, err := repo.UpsertPapers(ctx, run.Provider, run.RunID, items)
		written = n
		return err
	})
	if err != nil {
		return domain.NewStoreError("mirror artifact", "postgres", err)
	}

	s.logger.Info().
		Str("run_id", run.RunID).
		Str("provider", run.Provider).
		Int("papers", written).
		Msg("artifact mirrored to database")
	return nil
}
