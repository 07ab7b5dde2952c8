package domain

import (
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// EnrichmentStatus tracks where an item is in the enrichment phase.
type EnrichmentStatus string

const (
	// StatusPending means the item has not been enriched yet.
	StatusPending EnrichmentStatus = "pending"
	// StatusDone means the detail page was fetched and parsed.
	StatusDone EnrichmentStatus = "done"
	// StatusFailed means fetching or parsing the detail page failed.
	StatusFailed EnrichmentStatus = "failed"
)

// IsTerminal reports whether the status is done or failed.
func (s EnrichmentStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Enrichment holds the detail fields extracted from an item's own page.
type Enrichment struct {
	Abstract string
	Keywords []string
}

// EnrichedItem is an Item plus the outcome of its enrichment.
type EnrichedItem struct {
	Item

	// Abstract is nil when the abstract is absent, either because enrichment
	// has not run yet or because it failed.
	Abstract *string `json:"abstract"`

	// Keywords lists the author or index keywords in page order.
	Keywords []string `json:"keywords,omitempty"`

	// Status is the enrichment status.
	Status EnrichmentStatus `json:"enrichment_status"`

	// Error holds the failure message for failed items.
	Error string `json:"error,omitempty"`
}

// NewPendingItem wraps an item that has not been enriched.
func NewPendingItem(item Item) EnrichedItem {
	return EnrichedItem{Item: item, Status: StatusPending}
}

// NewEnrichedItem records a successful enrichment.
func NewEnrichedItem(item Item, e Enrichment) EnrichedItem {
	abstract := e.Abstract
	return EnrichedItem{
		Item:     item,
		Abstract: &abstract,
		Keywords: NormalizeKeywords(e.Keywords),
		Status:   StatusDone,
	}
}

// NewFailedItem records a failed enrichment. The abstract stays absent.
func NewFailedItem(item Item, err error) EnrichedItem {
	out := EnrichedItem{Item: item, Status: StatusFailed}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// CleanText trims s and collapses inner whitespace runs into single spaces.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeKeywords cleans keywords and drops empty and duplicate entries,
// comparing case-insensitively. The first spelling of a keyword is kept.
func NormalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = CleanText(kw)
		if kw == "" {
			continue
		}
		folded := strings.ToLower(kw)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, kw)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
