package clean

import (
	"context"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// CommonContentPageStrategy is cleaning strategy 5: HTML whose URL path
// contains "page/" and whose DOM has id="main" — extract that subtree,
// strip breadcrumbs, convert to markdown (spec.md §4.2 step 5).
type CommonContentPageStrategy struct{}

func NewCommonContentPageStrategy() *CommonContentPageStrategy { return &CommonContentPageStrategy{} }

func (c *CommonContentPageStrategy) Name() string { return "common_content_page" }

func (c *CommonContentPageStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	if !strings.HasPrefix(strings.ToLower(mimetype), "text/html") {
		return false
	}
	if !strings.Contains(url, "page/") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return false
	}
	return doc.Find("#main").Length() > 0
}

func (c *CommonContentPageStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse HTML: %w", err)
	}

	sub := doc.Find("#main")
	if sub.Length() == 0 {
		return "", fmt.Errorf("clean: common content page has no #main subtree")
	}
	stripBreadcrumbs(sub)

	html, err := sub.Html()
	if err != nil {
		return "", fmt.Errorf("clean: failed to serialize #main subtree: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("clean: failed to convert HTML to markdown: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return "", fmt.Errorf("clean: common content page produced no markdown content")
	}
	return md, nil
}
