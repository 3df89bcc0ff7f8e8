package clean

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// htmlTextSkipTags are elements whose text never belongs in the plain
// text rendering: script/style/meta/link/noscript plus the page-chrome
// elements the teacher's extractor.extractText already excludes.
var htmlTextSkipTags = map[string]bool{
	"script": true, "style": true, "meta": true, "link": true,
	"noscript": true, "header": true, "footer": true, "nav": true,
	"iframe": true,
}

// HTMLTextStrategy is cleaning strategy 7: strip non-content elements
// and render the remaining text, deduping consecutive identical lines
// (spec.md §4.2 step 7). Grounded on the teacher's
// extractor.ImprovedHTMLExtractor walk.
type HTMLTextStrategy struct{}

func NewHTMLTextStrategy() *HTMLTextStrategy { return &HTMLTextStrategy{} }

func (h *HTMLTextStrategy) Name() string { return "html_text" }

func (h *HTMLTextStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.HasPrefix(strings.ToLower(mimetype), "text/html")
}

func (h *HTMLTextStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse HTML: %w", err)
	}

	var buf strings.Builder
	walkHTMLText(doc, &buf)

	text := collapseWhitespacePerLine(buf.String())
	text = dedupeConsecutiveLines(text)
	if text == "" {
		return "", fmt.Errorf("clean: HTML document has no extractable text")
	}
	return text, nil
}

func walkHTMLText(n *html.Node, w io.Writer) {
	if n.Type == html.ElementNode && htmlTextSkipTags[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			fmt.Fprintf(w, "%s\n", text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTMLText(c, w)
	}
}
