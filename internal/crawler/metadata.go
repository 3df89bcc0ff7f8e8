package crawler

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitesearch/core/pkg/sitemodel"
)

// PageMetadata is the structured metadata spec.md §4.5 step 8 computes
// for every crawled HTML page.
type PageMetadata struct {
	Title      string
	MetaTags   map[string]string
	Headings   map[string][]string // "h1".."h6" -> text
	ImageAlts  []string
}

// ExtractMetadata parses content as HTML and computes title, meta
// tags (description/keywords/OpenGraph), headings h1-h6, and image alt
// text, per spec.md §4.5 step 8.
func ExtractMetadata(content []byte, pageURL *url.URL) (PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return PageMetadata{}, err
	}

	meta := PageMetadata{
		MetaTags: make(map[string]string),
		Headings: make(map[string][]string),
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = titleFromURL(pageURL)
	}
	meta.Title = sitemodel.TruncateTitle(title)

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		content, hasContent := s.Attr("content")
		if !hasContent {
			return
		}
		switch {
		case name == "description" || name == "keywords":
			meta.MetaTags[name] = content
		case strings.HasPrefix(property, "og:"):
			meta.MetaTags[property] = content
		}
	})

	for _, level := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		doc.Find(level).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" {
				meta.Headings[level] = append(meta.Headings[level], text)
			}
		})
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			meta.ImageAlts = append(meta.ImageAlts, alt)
		}
	})

	return meta, nil
}

// titleFromURL derives a fallback title from the URL's final path
// segment when the document has no <title>.
func titleFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return u.Host
	}
	return base
}
