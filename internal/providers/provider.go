// Package providers defines the adapter contract that lets the discovery and
// enrichment engines harvest any paginated search site.
//
// An adapter knows three things about its provider: how to address a results
// page, how to read items out of a results page, and how to read the abstract
// and keywords out of an item's detail page. Adapters never perform I/O; the
// engines fetch pages through a transport.Transport and hand the bodies to
// the adapter.
//
// Example usage:
//
//	adapter := acm.New(acm.Config{})
//	req := adapter.BuildQuery(domain.NewQuery("software testing", 2018, 2023))
//	page, err := tr.Fetch(ctx, req)
//	estimate, err := adapter.HasMorePages(page)
package providers

import (
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/transport"
)

// Adapter translates between the engines and one provider's pages.
// Implementations must be stateless and deterministic: the same inputs
// always produce the same requests and the same extracted items.
type Adapter interface {
	// Name returns the provider's registry key (e.g. "acm").
	Name() string

	// Rendering reports whether pages need a real browser to be served.
	Rendering() bool

	// Policy returns the provider's default pacing and retry policy.
	Policy() pacing.Policy

	// FirstCursor addresses the first results page.
	FirstCursor() domain.PageCursor

	// Advance returns the cursor of the page following c.
	Advance(c domain.PageCursor) domain.PageCursor

	// BuildQuery returns the request for the first results page.
	BuildQuery(q domain.Query) transport.Request

	// PageRequest returns the request for the page addressed by c.
	PageRequest(q domain.Query, c domain.PageCursor) transport.Request

	// HasMorePages reads the total result count from the first results page.
	HasMorePages(page *transport.Page) (PageEstimate, error)

	// ExtractItems reads the items of one results page. pageIndex is
	// recorded on each item as DiscoveredAtPage.
	ExtractItems(page *transport.Page, pageIndex int) ([]domain.Item, error)

	// BuildEnrichmentRequest returns the request for an item's detail page.
	BuildEnrichmentRequest(item domain.Item) transport.Request

	// ExtractEnrichment reads the abstract and keywords of a detail page.
	ExtractEnrichment(page *transport.Page) (domain.Enrichment, error)
}

// PageEstimate is the pagination outlook read from the first results page.
type PageEstimate struct {
	// Total is the number of matching results reported by the provider.
	Total int

	// PageSize is the number of results per page.
	PageSize int

	// Pages is the number of results pages to visit.
	Pages int
}

// HasMore reports whether more than one page must be visited.
func (e PageEstimate) HasMore() bool {
	return e.Pages > 1
}

// PageCount returns the number of pages needed to list total results,
// rounding up so a partial last page is still visited.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// EstimateFromTotal builds a PageEstimate from a result count.
func EstimateFromTotal(total, pageSize int) PageEstimate {
	return PageEstimate{
		Total:    total,
		PageSize: pageSize,
		Pages:    PageCount(total, pageSize),
	}
}
