package clean

import (
	"context"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// MarkdownFromHTMLStrategy is cleaning strategy 6, the default HTML
// handler: prefer the #main subtree when present, drop breadcrumb
// navigation, and render the rest to markdown with links, images and
// tables preserved (spec.md §4.2 step 6).
type MarkdownFromHTMLStrategy struct{}

func NewMarkdownFromHTMLStrategy() *MarkdownFromHTMLStrategy { return &MarkdownFromHTMLStrategy{} }

func (m *MarkdownFromHTMLStrategy) Name() string { return "markdown_from_html" }

func (m *MarkdownFromHTMLStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.HasPrefix(strings.ToLower(mimetype), "text/html")
}

func (m *MarkdownFromHTMLStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse HTML: %w", err)
	}

	root := doc.Selection
	if main := doc.Find("#main"); main.Length() > 0 {
		root = main
	}
	stripBreadcrumbs(root)

	html, err := root.Html()
	if err != nil {
		return "", fmt.Errorf("clean: failed to serialize HTML subtree: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("clean: failed to convert HTML to markdown: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return "", fmt.Errorf("clean: HTML document produced no markdown content")
	}
	return md, nil
}

// stripBreadcrumbs removes common breadcrumb navigation markup so it
// doesn't pollute the markdown rendering, per spec.md §4.2 steps 5/6.
func stripBreadcrumbs(sel *goquery.Selection) {
	sel.Find(`.breadcrumb, .breadcrumbs, nav[aria-label="breadcrumb"]`).Remove()
}
