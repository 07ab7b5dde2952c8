package store

import (
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
)

// Artifact is the abstract file written at the end of a provider run.
type Artifact struct {
	Query     domain.Query                   `json:"query"`
	Provider  string                         `json:"provider"`
	RunID     string                         `json:"run_id,omitempty"`
	UpdatedAt time.Time                      `json:"updated_at"`
	Items     map[string]domain.EnrichedItem `json:"items"`
}

// partialFile is the checkpoint file: the artifact so far plus the run checkpoint.
type partialFile struct {
	Artifact
	Checkpoint *domain.RunCheckpoint `json:"checkpoint"`
}

// Matches reports whether the artifact was produced for provider and q.
func (a *Artifact) Matches(provider string, q domain.Query) bool {
	return a != nil && a.Provider == provider && a.Query.Equal(q)
}

// Ordered returns the items sorted by discovery page, then by key.
func (a *Artifact) Ordered() []domain.EnrichedItem {
	out := make([]domain.EnrichedItem, 0, len(a.Items))
	for _, item := range a.Items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(x, y domain.EnrichedItem) int {
		if c := cmp.Compare(x.DiscoveredAtPage, y.DiscoveredAtPage); c != 0 {
			return c
		}
		return cmp.Compare(x.Key(), y.Key())
	})
	return out
}

// Counts returns the number of items per enrichment status.
func (a *Artifact) Counts() map[domain.EnrichmentStatus]int {
	counts := make(map[domain.EnrichmentStatus]int, 3)
	for _, item := range a.Items {
		counts[item.Status]++
	}
	return counts
}

// LoadArtifact reads an abstract file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewStoreError("read artifact", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, domain.NewStoreError("decode artifact", path, err)
	}
	if a.Items == nil {
		a.Items = make(map[string]domain.EnrichedItem)
	}
	return &a, nil
}

var csvHeader = []string{
	"id", "title", "published_on", "kind", "source_link", "page",
	"status", "abstract", "keywords", "error",
}

// ExportCSV writes the artifact's items as CSV with a header row.
// Absent abstracts are written as empty cells.
func ExportCSV(w io.Writer, a *Artifact) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, item := range a.Ordered() {
		abstract := ""
		if item.Abstract != nil {
			abstract = *item.Abstract
		}
		record := []string{
			item.ID,
			item.Title,
			item.PublishedOn,
			item.Kind,
			item.SourceLink,
			strconv.Itoa(item.DiscoveredAtPage),
			string(item.Status),
			abstract,
			strings.Join(item.Keywords, "; "),
			item.Error,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", item.Key(), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
