// Package ieee harvests IEEE Xplore through its JSON search endpoint.
//
// Search is a POST to /rest/search whose response reports the page count
// directly. Abstracts come from the document page, which embeds the
// document metadata as a JSON object in an inline script.
package ieee

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

// Name is the registry key of the IEEE adapter.
const Name = "ieee"

const (
	// DefaultBaseURL is the IEEE Xplore origin.
	DefaultBaseURL = "https://ieeexplore.ieee.org"

	// DefaultPageSize is the number of records IEEE returns per page.
	DefaultPageSize = 25
)

var metadataRegex = regexp.MustCompile(`(?s)xplGlobal\.document\.metadata\s*=\s*(\{.*?\});\s*(?:\n|</script>|$)`)

// Config configures the IEEE adapter.
type Config struct {
	BaseURL string
}

// Adapter implements providers.Adapter for IEEE Xplore.
type Adapter struct {
	baseURL string
}

var _ providers.Adapter = (*Adapter)(nil)

// New creates an IEEE adapter.
func New(cfg Config) *Adapter {
	return &Adapter{baseURL: providers.TrimBaseURL(cfg.BaseURL, DefaultBaseURL)}
}

// searchRequest is the body of a /rest/search call. Field order is fixed,
// so equal queries marshal to identical bytes.
type searchRequest struct {
	NewSearch    bool     `json:"newsearch"`
	QueryText    string   `json:"queryText"`
	Highlight    bool     `json:"highlight"`
	ReturnFacets []string `json:"returnFacets"`
	ReturnType   string   `json:"returnType"`
	PageNumber   int      `json:"pageNumber"`
	Ranges       []string `json:"ranges,omitempty"`
}

type searchResponse struct {
	TotalRecords int       `json:"totalRecords"`
	TotalPages   int       `json:"totalPages"`
	Records      []*record `json:"records"`
}

type record struct {
	ArticleNumber   flexString `json:"articleNumber"`
	ArticleTitle    string     `json:"articleTitle"`
	DocumentLink    string     `json:"documentLink"`
	PublicationYear flexString `json:"publicationYear"`
	ContentType     string     `json:"contentType"`
}

type documentMetadata struct {
	Abstract string `json:"abstract"`
	Keywords []struct {
		Type string   `json:"type"`
		Kwd  []string `json:"kwd"`
	} `json:"keywords"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (a *Adapter) Name() string {
	return Name
}

// Rendering reports false; the search endpoint is plain JSON.
func (a *Adapter) Rendering() bool {
	return false
}

func (a *Adapter) Policy() pacing.Policy {
	return pacing.Policy{
		PageDelay:   pacing.Delay{Min: 500 * time.Millisecond, Jitter: time.Second},
		ItemDelay:   pacing.Delay{Min: 600 * time.Millisecond, Jitter: 800 * time.Millisecond},
		MaxAttempts: 4,
		RetryDelay:  time.Second,
		RetryJitter: 2 * time.Second,
	}
}

// FirstCursor addresses pageNumber=1.
func (a *Adapter) FirstCursor() domain.PageCursor {
	return domain.PageCursor{Number: 1}
}

func (a *Adapter) Advance(c domain.PageCursor) domain.PageCursor {
	return domain.PageCursor{Index: c.Index + 1, Number: c.Number + 1}
}

func (a *Adapter) BuildQuery(q domain.Query) transport.Request {
	return a.PageRequest(q, a.FirstCursor())
}

// PageRequest returns the search POST for the page at c.
func (a *Adapter) PageRequest(q domain.Query, c domain.PageCursor) transport.Request {
	body := searchRequest{
		NewSearch:    true,
		QueryText:    q.Text,
		Highlight:    true,
		ReturnFacets: []string{"ALL"},
		ReturnType:   "SEARCH",
		PageNumber:   max(c.Number, 1),
	}
	if q.Years != nil {
		body.Ranges = []string{fmt.Sprintf("%d_%d_Year", q.Years.From, q.Years.To)}
	}

	// Marshaling a struct of strings, bools and ints cannot fail.
	payload, _ := json.Marshal(body)

	return transport.PostJSON(a.baseURL+"/rest/search", payload, map[string]string{
		"Accept": "application/json, text/plain, */*",
		"Origin": a.baseURL,
	})
}

// HasMorePages reads totalPages, falling back to totalRecords.
func (a *Adapter) HasMorePages(page *transport.Page) (providers.PageEstimate, error) {
	resp, err := decodeSearch(page)
	if err != nil {
		return providers.PageEstimate{}, err
	}
	if resp.TotalPages > 0 {
		return providers.PageEstimate{Total: resp.TotalRecords, PageSize: DefaultPageSize, Pages: resp.TotalPages}, nil
	}
	return providers.EstimateFromTotal(resp.TotalRecords, DefaultPageSize), nil
}

// ExtractItems reads the records of one search response.
func (a *Adapter) ExtractItems(page *transport.Page, pageIndex int) ([]domain.Item, error) {
	resp, err := decodeSearch(page)
	if err != nil {
		return nil, err
	}
	if resp.Records == nil {
		return nil, domain.NewExtractionError(Name, "records", "response has no records")
	}

	items := make([]domain.Item, 0, len(resp.Records))
	for _, r := range resp.Records {
		if r == nil || (r.ArticleNumber == "" && r.DocumentLink == "") {
			continue
		}
		link := r.DocumentLink
		if link == "" {
			link = fmt.Sprintf("/document/%s/", r.ArticleNumber)
		}
		items = append(items, domain.Item{
			ID:               string(r.ArticleNumber),
			Title:            domain.CleanText(stripHighlight(r.ArticleTitle)),
			PublishedOn:      string(r.PublicationYear),
			Kind:             r.ContentType,
			SourceLink:       providers.ResolveURL(a.baseURL, link),
			DiscoveredAtPage: pageIndex,
		})
	}
	return items, nil
}

// BuildEnrichmentRequest returns the request for the document page.
func (a *Adapter) BuildEnrichmentRequest(item domain.Item) transport.Request {
	if item.SourceLink != "" {
		return transport.Get(item.SourceLink)
	}
	return transport.Get(fmt.Sprintf("%s/document/%s/", a.baseURL, item.ID))
}

// ExtractEnrichment reads the embedded document metadata. Pages without it
// fall back to the description meta tag, which carries the abstract.
func (a *Adapter) ExtractEnrichment(page *transport.Page) (domain.Enrichment, error) {
	if page == nil || len(page.Body) == 0 {
		return domain.Enrichment{}, domain.NewExtractionError(Name, "document", "empty page")
	}

	if m := metadataRegex.FindSubmatch(page.Body); m != nil {
		var meta documentMetadata
		if err := json.Unmarshal(m[1], &meta); err != nil {
			return domain.Enrichment{}, domain.NewExtractionError(Name, "metadata", err.Error())
		}
		if strings.TrimSpace(meta.Abstract) != "" {
			var keywords []string
			for _, group := range meta.Keywords {
				keywords = append(keywords, group.Kwd...)
			}
			return domain.Enrichment{
				Abstract: domain.CleanText(stripHighlight(meta.Abstract)),
				Keywords: keywords,
			}, nil
		}
	}

	doc, err := providers.Document(Name, page)
	if err != nil {
		return domain.Enrichment{}, err
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		return domain.Enrichment{Abstract: domain.CleanText(desc)}, nil
	}
	return domain.Enrichment{}, domain.NewExtractionError(Name, "abstract", "abstract not found")
}

func decodeSearch(page *transport.Page) (*searchResponse, error) {
	if page == nil || len(page.Body) == 0 {
		return nil, domain.NewExtractionError(Name, "response", "empty response")
	}
	var resp searchResponse
	if err := json.Unmarshal(page.Body, &resp); err != nil {
		return nil, domain.NewExtractionError(Name, "response", fmt.Sprintf("decoding search response: %v", err))
	}
	return &resp, nil
}

// stripHighlight removes the [::term::] markers IEEE puts around matches.
func stripHighlight(s string) string {
	return strings.NewReplacer("[::", "", "::]", "").Replace(s)
}
