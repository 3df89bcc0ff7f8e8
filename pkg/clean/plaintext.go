package clean

import (
	"context"
	"fmt"
	"strings"
)

// PlainTextStrategy is cleaning strategy 8, the final strategy, for
// text/plain content only: collapse whitespace per
// line and drop empties (spec.md §4.2 step 8).
type PlainTextStrategy struct{}

func NewPlainTextStrategy() *PlainTextStrategy { return &PlainTextStrategy{} }

func (p *PlainTextStrategy) Name() string { return "plain_text" }

func (p *PlainTextStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.HasPrefix(strings.ToLower(mimetype), "text/plain")
}

func (p *PlainTextStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	text := collapseWhitespacePerLine(string(content))
	if text == "" {
		return "", fmt.Errorf("clean: plain text content is empty after cleanup")
	}
	return text, nil
}
