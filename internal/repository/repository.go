// Package repository mirrors finished harvest artifacts into PostgreSQL.
//
// # Overview
//
// The file artifact stays the source of truth for resuming a run. The
// database copy makes the harvested papers of every provider queryable in
// one place: one row per provider run and one row per paper, keyed by
// provider and item key.
//
// # Transactions
//
// Repositories accept DBTX so they work with both the pool and a
// transaction. The Sink writes a run and its papers in one transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    repo := repository.NewPgPaperRepository(tx)
//	    if err := repo.SaveRun(ctx, run); err != nil {
//	        return err
//	    }
//	    _, err := repo.UpsertPapers(ctx, run.Provider, run.RunID, items)
//	    return err
//	})
//
// # Upserts
//
// Writing the same artifact twice is harmless. A paper row that reached
// the done status is never downgraded by a later failed or pending copy.
package repository

import (
	"github.com/helixir/paper-harvester/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
