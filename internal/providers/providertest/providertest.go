// Package providertest provides an in-memory provider for engine tests.
//
// A Site serves numbered result pages and item detail pages as JSON and
// records every fetch, so tests can assert exactly which requests a run made.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/providers"
	"github.com/helixir/paper-harvester/internal/transport"
)

const (
	searchPrefix = "stub://search/"
	itemPrefix   = "stub://item/"
)

type searchBody struct {
	Total    int           `json:"total"`
	PageSize int           `json:"page_size"`
	Items    []domain.Item `json:"items"`
}

type itemBody struct {
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
}

// Site is an in-memory provider and the transport that serves it.
// It is safe for concurrent use.
type Site struct {
	Name     string
	PageSize int
	Pages    [][]domain.Item
	Total    int

	mu       sync.Mutex
	fetches  []string
	failPage map[int]int
	failItem map[string]int
	badItem  map[string]bool
	closed   bool
}

var _ transport.Transport = (*Site)(nil)

// NewSite creates a site whose pages hold the given numbers of items.
// Items are numbered across pages: item-0000, item-0001, ...
func NewSite(pageSize int, pageLengths ...int) *Site {
	s := &Site{
		Name:     "stub",
		PageSize: pageSize,
		failPage: make(map[int]int),
		failItem: make(map[string]int),
		badItem:  make(map[string]bool),
	}
	n := 0
	for p, length := range pageLengths {
		page := make([]domain.Item, 0, length)
		for i := 0; i < length; i++ {
			page = append(page, NewItem(n, p))
			n++
		}
		s.Pages = append(s.Pages, page)
	}
	s.Total = n
	return s
}

// NewItem builds the n-th stub item as discovered on page p.
func NewItem(n, p int) domain.Item {
	id := fmt.Sprintf("item-%04d", n)
	return domain.Item{
		ID:               id,
		Title:            fmt.Sprintf("Paper %d", n),
		PublishedOn:      "2021",
		Kind:             "article",
		SourceLink:       itemPrefix + id,
		DiscoveredAtPage: p,
	}
}

// FailPage makes the next times fetches of results page index fail.
// A negative times fails forever.
func (s *Site) FailPage(index, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPage[index] = times
}

// FailItem makes the next times fetches of item id fail with a server error.
// A negative times fails forever.
func (s *Site) FailItem(id string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failItem[id] = times
}

// BreakItem makes item id's detail page unparseable.
func (s *Site) BreakItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badItem[id] = true
}

// Fetch serves a results page or an item detail page.
func (s *Site) Fetch(ctx context.Context, req transport.Request) (*transport.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.NewTransportError(req.URL, 0, "closed", nil)
	}
	s.fetches = append(s.fetches, req.URL)

	switch {
	case strings.HasPrefix(req.URL, searchPrefix):
		index, err := strconv.Atoi(strings.TrimPrefix(req.URL, searchPrefix))
		if err != nil {
			return nil, domain.NewTransportError(req.URL, 400, "bad page index", err)
		}
		if consume(s.failPage, index) {
			return nil, domain.NewTransportError(req.URL, 503, "injected page failure", nil)
		}
		var items []domain.Item
		switch {
		case index < len(s.Pages):
			items = s.Pages[index]
		case index > 0:
			return nil, domain.NewTransportError(req.URL, 404, "no such page", nil)
		}
		body, _ := json.Marshal(searchBody{Total: s.Total, PageSize: s.PageSize, Items: items})
		return newPage(req.URL, body), nil

	case strings.HasPrefix(req.URL, itemPrefix):
		id := strings.TrimPrefix(req.URL, itemPrefix)
		if consume(s.failItem, id) {
			return nil, domain.NewTransportError(req.URL, 502, "injected item failure", nil)
		}
		if s.badItem[id] {
			return newPage(req.URL, []byte("<html>not json</html>")), nil
		}
		body, _ := json.Marshal(itemBody{
			Abstract: "Abstract of " + id,
			Keywords: []string{"kw-" + id},
		})
		return newPage(req.URL, body), nil
	}

	return nil, domain.NewTransportError(req.URL, 404, "unknown url", nil)
}

func consume[K comparable](m map[K]int, key K) bool {
	remaining, ok := m[key]
	if !ok || remaining == 0 {
		return false
	}
	if remaining > 0 {
		m[key] = remaining - 1
	}
	return true
}

func newPage(url string, body []byte) *transport.Page {
	return &transport.Page{URL: url, StatusCode: 200, Body: body, FetchedAt: time.Now()}
}

// Close marks the site closed.
func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Site) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fetches returns every fetched URL in order.
func (s *Site) Fetches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetches...)
}

// SearchFetches counts results page fetches.
func (s *Site) SearchFetches() int {
	return s.count(searchPrefix)
}

// ItemFetches counts detail page fetches.
func (s *Site) ItemFetches() int {
	return s.count(itemPrefix)
}

func (s *Site) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.fetches {
		if strings.HasPrefix(u, prefix) {
			n++
		}
	}
	return n
}

// Adapter returns an adapter that reads this site's pages.
func (s *Site) Adapter() *Adapter {
	return &Adapter{name: s.Name}
}

// Adapter is the providers.Adapter for a Site. It applies no delays and
// retries twice.
type Adapter struct {
	name string
}

var _ providers.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Rendering() bool {
	return false
}

func (a *Adapter) Policy() pacing.Policy {
	return pacing.Policy{MaxAttempts: 3}
}

func (a *Adapter) FirstCursor() domain.PageCursor {
	return domain.PageCursor{}
}

func (a *Adapter) Advance(c domain.PageCursor) domain.PageCursor {
	return domain.PageCursor{Index: c.Index + 1}
}

func (a *Adapter) BuildQuery(q domain.Query) transport.Request {
	return a.PageRequest(q, a.FirstCursor())
}

func (a *Adapter) PageRequest(_ domain.Query, c domain.PageCursor) transport.Request {
	return transport.Get(fmt.Sprintf("%s%d", searchPrefix, c.Index))
}

func (a *Adapter) HasMorePages(page *transport.Page) (providers.PageEstimate, error) {
	var body searchBody
	if err := json.Unmarshal(page.Body, &body); err != nil {
		return providers.PageEstimate{}, domain.NewExtractionError(a.name, "total", err.Error())
	}
	return providers.EstimateFromTotal(body.Total, body.PageSize), nil
}

func (a *Adapter) ExtractItems(page *transport.Page, pageIndex int) ([]domain.Item, error) {
	var body searchBody
	if err := json.Unmarshal(page.Body, &body); err != nil {
		return nil, domain.NewExtractionError(a.name, "items", err.Error())
	}
	items := make([]domain.Item, 0, len(body.Items))
	for _, item := range body.Items {
		item.DiscoveredAtPage = pageIndex
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) BuildEnrichmentRequest(item domain.Item) transport.Request {
	return transport.Get(itemPrefix + item.ID)
}

func (a *Adapter) ExtractEnrichment(page *transport.Page) (domain.Enrichment, error) {
	var body itemBody
	if err := json.Unmarshal(page.Body, &body); err != nil {
		return domain.Enrichment{}, domain.NewExtractionError(a.name, "abstract", err.Error())
	}
	return domain.Enrichment{Abstract: body.Abstract, Keywords: body.Keywords}, nil
}
