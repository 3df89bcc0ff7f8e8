package clean

import (
	"context"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// searchPathMarkers are the URL path fragments that identify a search
// results page, spec.md §4.2 step 4.
var searchPathMarkers = []string{"teacher-search", "student-search", "PhDStudents"}

// SearchPageStrategy is cleaning strategy 4: extract the #content
// subtree of a known search-results page template and strip faceted
// filter blocks before converting to markdown.
type SearchPageStrategy struct{}

func NewSearchPageStrategy() *SearchPageStrategy { return &SearchPageStrategy{} }

func (s *SearchPageStrategy) Name() string { return "search_page" }

func (s *SearchPageStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	if !strings.HasPrefix(strings.ToLower(mimetype), "text/html") {
		return false
	}
	if !urlPathContainsAny(url, searchPathMarkers) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return false
	}
	return doc.Find("#content").Length() > 0
}

func (s *SearchPageStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse HTML: %w", err)
	}

	sub := doc.Find("#content")
	if sub.Length() == 0 {
		return "", fmt.Errorf("clean: search page has no #content subtree")
	}
	stripFacetedFilters(sub)

	html, err := sub.Html()
	if err != nil {
		return "", fmt.Errorf("clean: failed to serialize #content subtree: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("clean: failed to convert HTML to markdown: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return "", fmt.Errorf("clean: search page produced no markdown content")
	}
	return md, nil
}

// stripFacetedFilters removes the filter-sidebar markup search result
// templates commonly wrap around actual result content.
func stripFacetedFilters(sel *goquery.Selection) {
	sel.Find(`.facets, .facet-filters, .filter-panel, .search-filters, aside.filters`).Remove()
}

func urlPathContainsAny(rawURL string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(rawURL, m) {
			return true
		}
	}
	return false
}
