package providers

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/transport"
)

var leadingNumberRegex = regexp.MustCompile(`\d[\d,.\s]*`)

// Document parses an HTML page.
func Document(provider string, page *transport.Page) (*goquery.Document, error) {
	if page == nil || len(page.Body) == 0 {
		return nil, domain.NewExtractionError(provider, "document", "empty page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, domain.NewExtractionError(provider, "document", err.Error())
	}
	return doc, nil
}

// Text returns the cleaned text of the first match of selector within s.
func Text(s *goquery.Selection, selector string) string {
	return domain.CleanText(s.Find(selector).First().Text())
}

// LeadingInt parses the first number in s, ignoring thousands separators,
// so "1,234 Results" yields 1234.
func LeadingInt(s string) (int, bool) {
	match := leadingNumberRegex.FindString(s)
	if match == "" {
		return 0, false
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.Fields(match)[0])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ResolveURL resolves href against base. Unparseable input is returned as is.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// TrimBaseURL strips any trailing slash from a base URL.
func TrimBaseURL(base, fallback string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fallback
	}
	return base
}
