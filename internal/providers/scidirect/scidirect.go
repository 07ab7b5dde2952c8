// Package scidirect harvests ScienceDirect search results.
//
// ScienceDirect pages its results by offset: page i starts at result
// i*show. Only full-length articles are requested. Each result links to an
// article page whose abstract section is read during enrichment.
package scidirect

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

// Name is the registry key of the ScienceDirect adapter.
const Name = "scidir"

const (
	// DefaultBaseURL is the ScienceDirect origin.
	DefaultBaseURL = "https://www.sciencedirect.com"

	// DefaultPageSize is the number of results requested per page.
	DefaultPageSize = 100

	// fullLengthArticles restricts results to research articles.
	fullLengthArticles = "FLA"
)

// Config configures the ScienceDirect adapter.
type Config struct {
	BaseURL  string
	PageSize int
}

// Adapter implements providers.Adapter for ScienceDirect.
type Adapter struct {
	baseURL  string
	pageSize int
}

var _ providers.Adapter = (*Adapter)(nil)

// New creates a ScienceDirect adapter.
func New(cfg Config) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Adapter{
		baseURL:  providers.TrimBaseURL(cfg.BaseURL, DefaultBaseURL),
		pageSize: cfg.PageSize,
	}
}

func (a *Adapter) Name() string {
	return Name
}

func (a *Adapter) Rendering() bool {
	return true
}

func (a *Adapter) Policy() pacing.Policy {
	return pacing.Policy{
		PageDelay:   pacing.Delay{Min: 2 * time.Second, Jitter: 2 * time.Second},
		ItemDelay:   pacing.Delay{Min: 600 * time.Millisecond, Jitter: 800 * time.Millisecond},
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
		RetryJitter: time.Second,
	}
}

func (a *Adapter) FirstCursor() domain.PageCursor {
	return domain.PageCursor{}
}

func (a *Adapter) Advance(c domain.PageCursor) domain.PageCursor {
	return domain.PageCursor{Index: c.Index + 1, Offset: c.Offset + a.pageSize}
}

func (a *Adapter) BuildQuery(q domain.Query) transport.Request {
	return a.PageRequest(q, a.FirstCursor())
}

// PageRequest returns the search URL for the page at c.
func (a *Adapter) PageRequest(q domain.Query, c domain.PageCursor) transport.Request {
	var params []string
	if q.Years != nil {
		params = append(params, fmt.Sprintf("date=%d-%d", q.Years.From, q.Years.To))
	}
	params = append(params,
		"qs="+url.PathEscape(q.Text),
		fmt.Sprintf("show=%d", a.pageSize),
		fmt.Sprintf("offset=%d", c.Offset),
		"articleTypes="+fullLengthArticles,
	)
	return transport.Get(a.baseURL + "/search?" + strings.Join(params, "&"))
}

// HasMorePages reads the "N results" banner.
func (a *Adapter) HasMorePages(page *transport.Page) (providers.PageEstimate, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return providers.PageEstimate{}, err
	}

	countText := providers.Text(doc.Selection, ".search-body-results-text")
	if countText == "" {
		if doc.Find(".result-list-title-link").Length() == 0 {
			return providers.EstimateFromTotal(0, a.pageSize), nil
		}
		return providers.PageEstimate{}, domain.NewExtractionError(Name, "search-body-results-text", "result count not found")
	}

	total, ok := providers.LeadingInt(countText)
	if !ok {
		return providers.PageEstimate{}, domain.NewExtractionError(Name, "search-body-results-text", fmt.Sprintf("cannot parse %q", countText))
	}
	return providers.EstimateFromTotal(total, a.pageSize), nil
}

// ExtractItems reads the result titles and their article types.
func (a *Adapter) ExtractItems(page *transport.Page, pageIndex int) ([]domain.Item, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return nil, err
	}

	links := doc.Find(".result-list-title-link")
	if links.Length() == 0 {
		return nil, domain.NewExtractionError(Name, "result-list-title-link", "no result items on page")
	}

	items := make([]domain.Item, 0, links.Length())
	links.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		id, _ := link.Attr("id")
		id = strings.TrimPrefix(strings.TrimSpace(id), "title-")
		if id == "" {
			id = piiFromPath(href)
		}
		if id == "" && strings.TrimSpace(href) == "" {
			return
		}

		result := link.Closest("li")
		items = append(items, domain.Item{
			ID:               id,
			Title:            domain.CleanText(link.Text()),
			PublishedOn:      domain.CleanText(result.Find(".srctitle-date-fields > span").Last().Text()),
			Kind:             providers.Text(result, ".article-type"),
			SourceLink:       providers.ResolveURL(a.baseURL, href),
			DiscoveredAtPage: pageIndex,
		})
	})
	return items, nil
}

func (a *Adapter) BuildEnrichmentRequest(item domain.Item) transport.Request {
	if item.SourceLink != "" {
		return transport.Get(item.SourceLink)
	}
	return transport.Get(a.baseURL + "/science/article/pii/" + item.ID)
}

// ExtractEnrichment reads the author abstract and the author keywords.
func (a *Adapter) ExtractEnrichment(page *transport.Page) (domain.Enrichment, error) {
	doc, err := providers.Document(Name, page)
	if err != nil {
		return domain.Enrichment{}, err
	}

	abstract := doc.Find(".abstract.author").First()
	if abstract.Length() == 0 {
		abstract = doc.Find(".abstract").First()
	}
	if abstract.Length() == 0 {
		return domain.Enrichment{}, domain.NewExtractionError(Name, "abstract", "abstract not found")
	}
	abstract.Find("h2, h3").Remove()

	text := domain.CleanText(abstract.Text())
	text = strings.TrimSpace(strings.TrimPrefix(text, "Abstract:"))

	var keywords []string
	doc.Find(".keywords-section .keyword").Each(func(_ int, s *goquery.Selection) {
		keywords = append(keywords, s.Text())
	})

	return domain.Enrichment{Abstract: text, Keywords: keywords}, nil
}

// piiFromPath extracts the PII from /science/article/pii/<PII> links.
func piiFromPath(href string) string {
	u, err := url.Parse(href)
	if err != nil || !strings.Contains(u.Path, "/pii/") {
		return ""
	}
	return path.Base(u.Path)
}
