// Package acm harvests the ACM Digital Library advanced search.
//
// ACM serves server-rendered HTML result pages addressed by a zero-based
// startPage parameter. The total result count is shown in the page header
// and each result links to a DOI detail page carrying the full abstract.
package acm

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

// Name is the registry key of the ACM adapter.
const Name = "acm"

const (
	// DefaultBaseURL is the ACM Digital Library origin.
	DefaultBaseURL = "https://dl.acm.org"

	// DefaultPageSize is the number of results requested per page.
	DefaultPageSize = 50
)

// Config configures the ACM adapter.
type Config struct {
	// BaseURL overrides the ACM origin.
	BaseURL string

	// PageSize is the number of results per page.
	PageSize int
}

// Adapter implements providers.Adapter for the ACM Digital Library.
type Adapter struct {
	baseURL  string
	pageSize int
}

var _ providers.Adapter = (*Adapter)(nil)

// New creates an ACM adapter.
func New(cfg Config) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Adapter{
		baseURL:  providers.TrimBaseURL(cfg.BaseURL, DefaultBaseURL),
		pageSize: cfg.PageSize,
	}
}

// Name returns "acm".
func (a *Adapter) Name() string {
	return Name
}

// Rendering reports true; ACM rejects clients that do not run scripts.
func (a *Adapter) Rendering() bool {
	return true
}

// Policy returns the ACM pacing defaults.
func (a *Adapter) Policy() pacing.Policy {
	return pacing.Policy{
		PageDelay:   pacing.Delay{Min: 2 * time.Second, Jitter: 2 * time.Second},
		ItemDelay:   pacing.Delay{Min: 600 * time.Millisecond, Jitter: 800 * time.Millisecond},
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
		RetryJitter: time.Second,
	}
}

// FirstCursor addresses startPage=0.
func (a *Adapter) FirstCursor() domain.PageCursor {
	return domain.PageCursor{}
}

// Advance moves to the next startPage.
func (a *Adapter) Advance(c domain.PageCursor) domain.PageCursor {
	return domain.PageCursor{Index: c.Index + 1, Number: c.Number + 1}
}

// BuildQuery returns the request for the first results page.
func (a *Adapter) BuildQuery(q domain.Query) transport.Request {
	return a.PageRequest(q, a.FirstCursor())
}

// PageRequest returns the search URL for the page at c. Parameters are
// emitted in a fixed order so equal queries yield identical URLs.
func (a *Adapter) PageRequest(q domain.Query, c domain.PageCursor) transport.Request {
	params := []string{
		"fillQuickSearch=false",
		"target=advanced",
		"expand=dl",
	}
	if q.Years != nil {
		params = append(params,
			fmt.Sprintf("AfterYear=%d", q.Years.From),
			fmt.Sprintf("BeforeYear=%d", q.Years.To),
		)
	}
	params = append(params,
		"AllField="+url.QueryEscape(q.Text),
		fmt.Sprintf("startPage=%d", c.Number),
		fmt.Sprintf("pageSize=%d", a.pageSize),
	)
	return transport.Get(a.baseURL + "/action/doSearch?" + strings.Join(params, "&"))
}

// HasMorePages reads the result count shown above the results.
// A page with neither a count nor results is an empty search.
func (a *Adapter) HasMorePages(page *transport.Page) (providers.PageEstimate, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return providers.PageEstimate{}, err
	}

	countText := providers.Text(doc.Selection, ".result__count")
	if countText == "" {
		if doc.Find(".issue-item").Length() == 0 {
			return providers.EstimateFromTotal(0, a.pageSize), nil
		}
		return providers.PageEstimate{}, domain.NewExtractionError(Name, "result__count", "result count not found")
	}

	total, ok := providers.LeadingInt(countText)
	if !ok {
		return providers.PageEstimate{}, domain.NewExtractionError(Name, "result__count", fmt.Sprintf("cannot parse %q", countText))
	}
	return providers.EstimateFromTotal(total, a.pageSize), nil
}

// ExtractItems reads every result block on the page. Blocks without a
// title link are skipped.
func (a *Adapter) ExtractItems(page *transport.Page, pageIndex int) ([]domain.Item, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return nil, err
	}

	blocks := doc.Find(".issue-item")
	if blocks.Length() == 0 {
		return nil, domain.NewExtractionError(Name, "issue-item", "no result items on page")
	}

	items := make([]domain.Item, 0, blocks.Length())
	blocks.Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h5.issue-item__title span.hlFld-Title a").First()
		if link.Length() == 0 {
			link = s.Find(".issue-item__title a").First()
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		items = append(items, domain.Item{
			ID:               doiFromPath(href),
			Title:            domain.CleanText(link.Text()),
			PublishedOn:      providers.Text(s, ".bookPubDate"),
			Kind:             providers.Text(s, ".issue-heading"),
			SourceLink:       providers.ResolveURL(a.baseURL, href),
			DiscoveredAtPage: pageIndex,
		})
	})
	return items, nil
}

// BuildEnrichmentRequest returns the request for the item's DOI page.
func (a *Adapter) BuildEnrichmentRequest(item domain.Item) transport.Request {
	if item.SourceLink != "" {
		return transport.Get(item.SourceLink)
	}
	return transport.Get(a.baseURL + "/doi/" + item.ID)
}

// ExtractEnrichment reads the full abstract and the index terms.
func (a *Adapter) ExtractEnrichment(page *transport.Page) (domain.Enrichment, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return domain.Enrichment{}, err
	}

	abstract := doc.Find(".abstractInFull").First()
	if abstract.Length() == 0 {
		abstract = doc.Find("section#abstract").First()
	}
	if abstract.Length() == 0 {
		return domain.Enrichment{}, domain.NewExtractionError(Name, "abstractInFull", "abstract not found")
	}

	var keywords []string
	doc.Find(".keywords-list li, ol.rlist.organizational-chart a").Each(func(_ int, s *goquery.Selection) {
		keywords = append(keywords, s.Text())
	})

	return domain.Enrichment{
		Abstract: domain.CleanText(abstract.Text()),
		Keywords: keywords,
	}, nil
}

// doiFromPath extracts the DOI from links like /doi/10.1145/123 or
// /doi/abs/10.1145/123. Links without a DOI yield "".
func doiFromPath(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	_, rest, ok := strings.Cut(href, "/doi/")
	if !ok {
		return ""
	}
	for _, prefix := range []string{"abs/", "full/", "pdf/", "epdf/", "fullHtml/"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	if !strings.HasPrefix(rest, "10.") {
		return ""
	}
	return rest
}
