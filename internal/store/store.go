// Package store persists harvest output on the local filesystem.
//
// Each provider owns three files: the link file holding discovered items,
// the abstract file holding the final enrichment artifact, and a partial
// file next to the abstract file that is rewritten after every batch.
// Every write goes to a temporary file that is renamed into place, so a
// crash leaves either the previous or the new content, never a torn file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/enrichment"
)

// PartialSuffix is appended to the abstract file path to name the checkpoint file.
const PartialSuffix = ".partial.json"

// Paths are the files a provider run writes.
type Paths struct {
	Links     string
	Abstracts string
}

// Partial returns the checkpoint file path.
func (p Paths) Partial() string {
	return p.Abstracts + PartialSuffix
}

// State is what a previous run left behind.
type State struct {
	// Items holds prior enrichment results keyed by item key.
	Items map[string]domain.EnrichedItem

	// Checkpoint is set only when an unfinished run for the same provider
	// and query was found.
	Checkpoint *domain.RunCheckpoint
}

// Resumable reports whether an unfinished run can be continued.
func (s *State) Resumable() bool {
	return s != nil && s.Checkpoint != nil
}

// KnownItems returns the items of the prior results ordered by discovery
// page, then by key.
func (s *State) KnownItems() []domain.Item {
	if s == nil || len(s.Items) == 0 {
		return nil
	}
	ordered := (&Artifact{Items: s.Items}).Ordered()
	out := make([]domain.Item, 0, len(ordered))
	for _, item := range ordered {
		out = append(out, item.Item)
	}
	return out
}

// FileStore reads and writes one provider's files.
type FileStore struct {
	provider string
	query    domain.Query
	paths    Paths
	logger   zerolog.Logger
	now      func() time.Time
}

var _ enrichment.Checkpointer = (*FileStore)(nil)

// New creates a FileStore. Both paths are required.
func New(provider string, q domain.Query, paths Paths, logger zerolog.Logger) (*FileStore, error) {
	if paths.Links == "" {
		return nil, domain.NewConfigurationError(provider+".link_file_save_to", "path is required")
	}
	if paths.Abstracts == "" {
		return nil, domain.NewConfigurationError(provider+".abs_file_save_to", "path is required")
	}
	return &FileStore{
		provider: provider,
		query:    q,
		paths:    paths,
		logger:   logger.With().Str("component", "store").Str("provider", provider).Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Paths returns the store's file paths.
func (s *FileStore) Paths() Paths {
	return s.paths
}

// SaveLinks writes the discovered items to the link file.
func (s *FileStore) SaveLinks(ctx context.Context, items []domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if items == nil {
		items = []domain.Item{}
	}
	return writeJSON("save links", s.paths.Links, items)
}

// LoadLinks reads the link file. A missing file yields no items and no error.
func (s *FileStore) LoadLinks(ctx context.Context) ([]domain.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var items []domain.Item
	found, err := readJSON("load links", s.paths.Links, &items)
	if err != nil || !found {
		return nil, false, err
	}
	return items, true, nil
}

// RemoveLinks deletes the link file if it exists.
func (s *FileStore) RemoveLinks() error {
	if err := os.Remove(s.paths.Links); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewStoreError("remove links", s.paths.Links, err)
	}
	return nil
}

// LoadPartial returns what earlier runs left for this provider and query.
//
// A matching partial file yields its items and checkpoint. Otherwise a
// matching final artifact yields its items with no checkpoint. Files
// written for another provider or query are ignored with a warning.
func (s *FileStore) LoadPartial(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state := &State{Items: make(map[string]domain.EnrichedItem)}

	partial, err := s.readPartial()
	if err != nil {
		return nil, err
	}
	if partial != nil {
		if partial.Matches(s.provider, s.query) && partial.Checkpoint.Matches(s.provider, s.query) {
			copyItems(state.Items, partial.Items)
			state.Checkpoint = partial.Checkpoint
			s.logger.Info().
				Str("run_id", partial.Checkpoint.RunID).
				Int("completed", len(partial.Checkpoint.CompletedItemIDs)).
				Msg("found unfinished run")
			return state, nil
		}
		s.logger.Warn().Str("path", s.paths.Partial()).Msg("ignoring checkpoint written for another query")
	}

	var final Artifact
	found, err := readJSON("load artifact", s.paths.Abstracts, &final)
	if err != nil {
		return nil, err
	}
	if found {
		if final.Matches(s.provider, s.query) {
			copyItems(state.Items, final.Items)
		} else {
			s.logger.Warn().Str("path", s.paths.Abstracts).Msg("ignoring artifact written for another query")
		}
	}
	return state, nil
}

// SaveBatch rewrites the partial file with results and cp.
func (s *FileStore) SaveBatch(_ context.Context, results map[string]domain.EnrichedItem, cp *domain.RunCheckpoint) error {
	file := partialFile{
		Artifact:   s.artifact(cp.RunID, results),
		Checkpoint: cp,
	}
	if err := writeJSON("save batch", s.paths.Partial(), file); err != nil {
		return err
	}
	s.logger.Debug().
		Int("batch", cp.LastBatchIndex).
		Int("completed", len(cp.CompletedItemIDs)).
		Msg("checkpoint written")
	return nil
}

// Finalize writes the abstract file and removes the partial file.
// Items present only in the partial file are merged in; results wins
// for keys present in both.
func (s *FileStore) Finalize(ctx context.Context, runID string, results map[string]domain.EnrichedItem) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged := make(map[string]domain.EnrichedItem, len(results))
	partial, err := s.readPartial()
	if err != nil {
		return nil, err
	}
	if partial != nil && partial.Matches(s.provider, s.query) {
		copyItems(merged, partial.Items)
	}
	copyItems(merged, results)

	artifact := s.artifact(runID, merged)
	if err := writeJSON("finalize", s.paths.Abstracts, artifact); err != nil {
		return nil, err
	}
	if err := os.Remove(s.paths.Partial()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewStoreError("remove partial", s.paths.Partial(), err)
	}
	s.logger.Info().Str("path", s.paths.Abstracts).Int("items", len(merged)).Msg("artifact written")
	return &artifact, nil
}

func (s *FileStore) artifact(runID string, items map[string]domain.EnrichedItem) Artifact {
	return Artifact{
		Query:     s.query,
		Provider:  s.provider,
		RunID:     runID,
		UpdatedAt: s.now(),
		Items:     items,
	}
}

func (s *FileStore) readPartial() (*partialFile, error) {
	var partial partialFile
	found, err := readJSON("load partial", s.paths.Partial(), &partial)
	if err != nil || !found {
		return nil, err
	}
	if partial.Checkpoint == nil {
		s.logger.Warn().Str("path", s.paths.Partial()).Msg("partial file has no checkpoint")
		return nil, nil
	}
	return &partial, nil
}

func copyItems(dst, src map[string]domain.EnrichedItem) {
	for key, item := range src {
		dst[key] = item
	}
}

// readJSON decodes path into v. found is false when the file does not exist.
func readJSON(op, path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewStoreError(op, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, domain.NewStoreError(op, path, err)
	}
	return true, nil
}

// writeJSON atomically replaces path with the JSON encoding of v.
func writeJSON(op, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.NewStoreError(op, path, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return domain.NewStoreError(op, path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
