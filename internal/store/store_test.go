package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
)

var testQuery = domain.NewQuery("remote sensing", 2018, 2023)

func newTestStore(t *testing.T, q domain.Query) *FileStore {
	t.Helper()
	dir := t.TempDir()
	s, err := New("acm", q, Paths{
		Links:     filepath.Join(dir, "links", "acm.json"),
		Abstracts: filepath.Join(dir, "out", "acm_abs.json"),
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sampleItem(id string, page int) domain.Item {
	return domain.Item{ID: id, Title: "Title " + id, SourceLink: "https://example.org/" + id, DiscoveredAtPage: page}
}

func TestNew_RequiresPaths(t *testing.T) {
	_, err := New("acm", testQuery, Paths{Abstracts: "x.json"}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New("acm", testQuery, Paths{Links: "x.json"}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testQuery)

	items, found, err := s.LoadLinks(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, items)

	want := []domain.Item{sampleItem("a", 0), sampleItem("b", 1)}
	require.NoError(t, s.SaveLinks(ctx, want))

	got, found, err := s.LoadLinks(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, s.RemoveLinks())
	_, err = os.Stat(s.Paths().Links)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, s.RemoveLinks(), "removing twice is fine")
}

func TestSaveBatchAndLoadPartial(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testQuery)

	cp := domain.NewRunCheckpoint("run-1", "acm", testQuery)
	done := domain.NewEnrichedItem(sampleItem("a", 0), domain.Enrichment{Abstract: "text", Keywords: []string{"x"}})
	results := map[string]domain.EnrichedItem{
		"a": done,
		"b": domain.NewPendingItem(sampleItem("b", 0)),
	}
	cp.MarkCompleted("a")
	cp.LastBatchIndex = 0
	require.NoError(t, s.SaveBatch(ctx, results, cp))

	state, err := s.LoadPartial(ctx)
	require.NoError(t, err)
	require.True(t, state.Resumable())
	assert.Equal(t, "run-1", state.Checkpoint.RunID)
	assert.True(t, state.Checkpoint.Completed("a"))
	assert.False(t, state.Checkpoint.Completed("b"))
	assert.Equal(t, 0, state.Checkpoint.LastBatchIndex)
	require.Len(t, state.Items, 2)
	assert.Equal(t, "text", *state.Items["a"].Abstract)
	assert.Nil(t, state.Items["b"].Abstract)
	assert.Equal(t, domain.StatusPending, state.Items["b"].Status)
}

func TestState_KnownItems(t *testing.T) {
	var empty *State
	assert.Nil(t, empty.KnownItems())

	state := &State{Items: map[string]domain.EnrichedItem{
		"c": domain.NewPendingItem(sampleItem("c", 1)),
		"b": domain.NewPendingItem(sampleItem("b", 0)),
		"a": domain.NewPendingItem(sampleItem("a", 1)),
	}}
	items := state.KnownItems()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{items[0].Key(), items[1].Key(), items[2].Key()})
}

func TestLoadPartial_Empty(t *testing.T) {
	state, err := newTestStore(t, testQuery).LoadPartial(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Resumable())
	assert.Empty(t, state.Items)
}

func TestLoadPartial_IgnoresOtherQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testQuery)
	other := domain.NewQuery("something else", 0, 0)

	cp := domain.NewRunCheckpoint("run-1", "acm", other)
	require.NoError(t, s.SaveBatch(ctx, map[string]domain.EnrichedItem{}, cp))

	state, err := s.LoadPartial(ctx)
	require.NoError(t, err)
	assert.False(t, state.Resumable())
}

func TestLoadPartial_FallsBackToFinalArtifact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testQuery)

	results := map[string]domain.EnrichedItem{
		"a": domain.NewEnrichedItem(sampleItem("a", 0), domain.Enrichment{Abstract: "text"}),
		"b": domain.NewFailedItem(sampleItem("b", 0), errors.New("timeout")),
	}
	_, err := s.Finalize(ctx, "run-1", results)
	require.NoError(t, err)

	state, err := s.LoadPartial(ctx)
	require.NoError(t, err)
	assert.False(t, state.Resumable(), "a finished run has no checkpoint")
	assert.Len(t, state.Items, 2)
	assert.Equal(t, domain.StatusFailed, state.Items["b"].Status)

	other := newTestStore(t, domain.NewQuery("other", 0, 0))
	other.paths = s.paths
	state, err = other.LoadPartial(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Items)
}

func TestFinalize_MergesPartialAndRemovesIt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testQuery)

	cp := domain.NewRunCheckpoint("run-1", "acm", testQuery)
	require.NoError(t, s.SaveBatch(ctx, map[string]domain.EnrichedItem{
		"a": domain.NewEnrichedItem(sampleItem("a", 0), domain.Enrichment{Abstract: "from partial"}),
		"b": domain.NewPendingItem(sampleItem("b", 0)),
	}, cp))

	artifact, err := s.Finalize(ctx, "run-1", map[string]domain.EnrichedItem{
		"b": domain.NewEnrichedItem(sampleItem("b", 0), domain.Enrichment{Abstract: "final"}),
	})
	require.NoError(t, err)
	require.Len(t, artifact.Items, 2)
	assert.Equal(t, "from partial", *artifact.Items["a"].Abstract)
	assert.Equal(t, "final", *artifact.Items["b"].Abstract)

	_, err = os.Stat(s.Paths().Partial())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	loaded, err := LoadArtifact(s.Paths().Abstracts)
	require.NoError(t, err)
	assert.True(t, loaded.Matches("acm", testQuery))
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, artifact.Items, loaded.Items)
}

func TestWriteFailureIsStoreError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s, err := New("acm", testQuery, Paths{
		Links:     filepath.Join(blocker, "links.json"),
		Abstracts: filepath.Join(blocker, "abs.json"),
	}, zerolog.Nop())
	require.NoError(t, err)

	err = s.SaveBatch(context.Background(), nil, domain.NewRunCheckpoint("r", "acm", testQuery))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.True(t, domain.IsFatal(err))

	err = s.SaveLinks(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrStore)
}

func TestLoadArtifact_Errors(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, domain.ErrStore)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadArtifact(path)
	assert.ErrorIs(t, err, domain.ErrStore)
}

func TestExportCSV(t *testing.T) {
	a := &Artifact{
		Provider: "acm",
		Items: map[string]domain.EnrichedItem{
			"z": domain.NewEnrichedItem(sampleItem("z", 0), domain.Enrichment{Abstract: "has, comma", Keywords: []string{"a", "b"}}),
			"a": domain.NewFailedItem(sampleItem("a", 1), errors.New("boom")),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, a))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])

	assert.Equal(t, "z", rows[1][0], "page 0 first")
	assert.Equal(t, "has, comma", rows[1][7])
	assert.Equal(t, "a; b", rows[1][8])

	assert.Equal(t, "a", rows[2][0])
	assert.Equal(t, "failed", rows[2][6])
	assert.Equal(t, "", rows[2][7])
	assert.Equal(t, "boom", rows[2][9])
}

func TestArtifactCounts(t *testing.T) {
	a := &Artifact{Items: map[string]domain.EnrichedItem{
		"a": domain.NewEnrichedItem(sampleItem("a", 0), domain.Enrichment{}),
		"b": domain.NewFailedItem(sampleItem("b", 0), nil),
		"c": domain.NewFailedItem(sampleItem("c", 0), nil),
	}}
	counts := a.Counts()
	assert.Equal(t, 1, counts[domain.StatusDone])
	assert.Equal(t, 2, counts[domain.StatusFailed])
}
