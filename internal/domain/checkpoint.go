package domain

import (
	"time"
)

// RunCheckpoint is the durable resume anchor of an enrichment run.
// It is written after every completed batch.
type RunCheckpoint struct {
	RunID            string    `json:"run_id"`
	Provider         string    `json:"provider"`
	Query            Query     `json:"query"`
	CompletedItemIDs []string  `json:"completed_item_ids"`
	LastBatchIndex   int       `json:"last_batch_index"`
	UpdatedAt        time.Time `json:"updated_at"`

	completed map[string]struct{}
}

// NewRunCheckpoint creates an empty checkpoint. LastBatchIndex starts at -1
// so the first batch written is batch 0.
func NewRunCheckpoint(runID, provider string, q Query) *RunCheckpoint {
	return &RunCheckpoint{
		RunID:          runID,
		Provider:       provider,
		Query:          q,
		LastBatchIndex: -1,
		UpdatedAt:      time.Now().UTC(),
	}
}

func (c *RunCheckpoint) index() map[string]struct{} {
	if c.completed == nil || len(c.completed) != len(c.CompletedItemIDs) {
		c.completed = make(map[string]struct{}, len(c.CompletedItemIDs))
		for _, id := range c.CompletedItemIDs {
			c.completed[id] = struct{}{}
		}
	}
	return c.completed
}

// Completed reports whether the item key has reached a terminal status in this run.
func (c *RunCheckpoint) Completed(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.index()[key]
	return ok
}

// MarkCompleted records key as done or failed. Marking twice is a no-op.
func (c *RunCheckpoint) MarkCompleted(key string) {
	idx := c.index()
	if _, ok := idx[key]; ok {
		return
	}
	idx[key] = struct{}{}
	c.CompletedItemIDs = append(c.CompletedItemIDs, key)
}

// Matches reports whether the checkpoint belongs to the given provider and query.
func (c *RunCheckpoint) Matches(provider string, q Query) bool {
	return c != nil && c.Provider == provider && c.Query.Equal(q)
}

// RunSummary reports the outcome of one provider pipeline.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Provider        string        `json:"provider"`
	Resumed         bool          `json:"resumed"`
	Discovered      int           `json:"discovered"`
	NewlyDiscovered int           `json:"newly_discovered"`
	PagesFetched    int           `json:"pages_fetched"`
	FailedPages     []int         `json:"failed_pages,omitempty"`
	Enriched        int           `json:"enriched"`
	FailedItems     []string      `json:"failed_items,omitempty"`
	Batches         int           `json:"batches"`
	Duration        time.Duration `json:"duration"`
}
