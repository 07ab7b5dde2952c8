// Package domain provides the core types shared by the harvester: queries,
// discovered items, enrichment results, run checkpoints and the error taxonomy.
package domain

import (
	"fmt"
	"strings"
)

// YearRange bounds a query by publication year. Both ends are inclusive.
type YearRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Query is a provider-agnostic search request.
type Query struct {
	// Text is the free-text search term passed to the provider.
	Text string `json:"text"`

	// Years optionally restricts results to a publication year range.
	Years *YearRange `json:"years,omitempty"`
}

// NewQuery creates a Query. from and to of zero leave the year range unset.
func NewQuery(text string, from, to int) Query {
	q := Query{Text: text}
	if from != 0 || to != 0 {
		q.Years = &YearRange{From: from, To: to}
	}
	return q
}

// Validate checks that the query can be sent to a provider.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}
	if q.Years != nil {
		if q.Years.From <= 0 || q.Years.To <= 0 {
			return fmt.Errorf("%w: year range must be positive, got %d-%d", ErrInvalidInput, q.Years.From, q.Years.To)
		}
		if q.Years.From > q.Years.To {
			return fmt.Errorf("%w: year range is inverted, got %d-%d", ErrInvalidInput, q.Years.From, q.Years.To)
		}
	}
	return nil
}

// Equal reports whether two queries describe the same search.
func (q Query) Equal(other Query) bool {
	if q.Text != other.Text {
		return false
	}
	if q.Years == nil || other.Years == nil {
		return q.Years == nil && other.Years == nil
	}
	return *q.Years == *other.Years
}

// String returns a compact human readable form used in logs.
func (q Query) String() string {
	if q.Years == nil {
		return fmt.Sprintf("%q", q.Text)
	}
	return fmt.Sprintf("%q [%d-%d]", q.Text, q.Years.From, q.Years.To)
}
