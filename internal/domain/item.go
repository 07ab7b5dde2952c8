package domain

// Item is one search result discovered on a results page.
type Item struct {
	// ID is the provider-stable identifier (DOI, article number, element id).
	ID string `json:"id"`

	// Title is the display title as shown on the results page.
	Title string `json:"title"`

	// PublishedOn is the publication date text as reported by the provider.
	PublishedOn string `json:"published_on,omitempty"`

	// Kind is the publication type (research article, conference paper, ...).
	Kind string `json:"kind,omitempty"`

	// SourceLink is the absolute URL of the item's detail page.
	SourceLink string `json:"source_link"`

	// DiscoveredAtPage is the zero-based results page the item was found on.
	DiscoveredAtPage int `json:"discovered_at_page"`
}

// Key returns the identity used for deduplication: the ID when present,
// otherwise the source link.
func (i Item) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.SourceLink
}

// ItemSet is an insertion-ordered collection of items keyed by Item.Key.
// The first occurrence of a key wins. ItemSet is not safe for concurrent use.
type ItemSet struct {
	order []string
	items map[string]Item
}

// NewItemSet creates an ItemSet seeded with items.
func NewItemSet(items ...Item) *ItemSet {
	s := &ItemSet{items: make(map[string]Item, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts item unless an item with the same key is already present.
// It reports whether the item was added. Items without any key are dropped.
func (s *ItemSet) Add(item Item) bool {
	key := item.Key()
	if key == "" {
		return false
	}
	if s.items == nil {
		s.items = make(map[string]Item)
	}
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = item
	s.order = append(s.order, key)
	return true
}

// Has reports whether an item with the given key is present.
func (s *ItemSet) Has(key string) bool {
	_, ok := s.items[key]
	return ok
}

// Get returns the item stored under key.
func (s *ItemSet) Get(key string) (Item, bool) {
	item, ok := s.items[key]
	return item, ok
}

// Len returns the number of items.
func (s *ItemSet) Len() int {
	return len(s.order)
}

// Keys returns the item keys in insertion order.
func (s *ItemSet) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Items returns the items in insertion order.
func (s *ItemSet) Items() []Item {
	out := make([]Item, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.items[key])
	}
	return out
}

// PageCursor addresses one results page. Providers use whichever fields
// their pagination scheme needs.
type PageCursor struct {
	// Index is the zero-based position of the page within the run.
	Index int `json:"index"`

	// Number is the provider's own page number (page-number pagers).
	Number int `json:"number,omitempty"`

	// Offset is the result offset (offset pagers).
	Offset int `json:"offset,omitempty"`
}
