//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/database/dbtest"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/repository"
	"github.com/helixir/paper-harvester/internal/store"
)

func TestSink_RoundTrip(t *testing.T) {
	db := dbtest.Start(t)
	ctx := context.Background()
	sink := repository.NewSink(db, zerolog.Nop())
	repo := repository.NewPgPaperRepository(db)

	item := domain.Item{ID: "10.1016/j.rse.2020.1", Title: "Canopy mapping", SourceLink: "https://www.sciencedirect.com/science/article/pii/S1", DiscoveredAtPage: 0}
	a := &store.Artifact{
		Query:    domain.NewQuery("forests", 2018, 2023),
		Provider: "scidir",
		RunID:    "run-a",
		Items: map[string]domain.EnrichedItem{
			item.Key(): domain.NewEnrichedItem(item, domain.Enrichment{Abstract: "Trees.", Keywords: []string{"canopy"}}),
		},
	}
	summary := &domain.RunSummary{RunID: "run-a", Provider: "scidir", Discovered: 1, Enriched: 1, Duration: time.Second}
	require.NoError(t, sink.Publish(ctx, a, summary))

	// A later failed copy of the same paper does not undo the enrichment.
	b := &store.Artifact{
		Query:    a.Query,
		Provider: "scidir",
		RunID:    "run-b",
		Items: map[string]domain.EnrichedItem{
			item.Key(): domain.NewFailedItem(item, assert.AnError),
		},
	}
	require.NoError(t, sink.Publish(ctx, b, &domain.RunSummary{RunID: "run-b", Provider: "scidir", Discovered: 1}))

	items, total, err := repo.List(ctx, repository.PaperFilter{Provider: "scidir"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusDone, items[0].Status)
	require.NotNil(t, items[0].Abstract)
	assert.Equal(t, "Trees.", *items[0].Abstract)
	assert.Equal(t, []string{"canopy"}, items[0].Keywords)
	assert.Empty(t, items[0].Error)

	counts, err := repo.CountByStatus(ctx, "scidir")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusDone])
}
