// Package clean implements the ordered MIME-dispatched cleaning
// strategies of spec.md §4.2: PDF, Word, other office formats, search
// pages, common content pages, arbitrary-HTML-to-markdown, HTML text
// and plain text, in that fixed order, with a shared post-processing
// pass and image passthrough for anything none of them match.
package clean

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Strategy is a single cleaning rule: ShouldHandle decides whether this
// strategy owns a given (url, mimetype, content) tuple; Clean produces
// UTF-8 markdown/plaintext from the raw content. Strategies are a
// tagged variant dispatched in a fixed list, not a class hierarchy
// (spec.md §9 design note).
type Strategy interface {
	Name() string
	ShouldHandle(url, mimetype string, content []byte) bool
	Clean(ctx context.Context, mimetype string, content []byte) (string, error)
}

// ErrNoStrategyMatched is returned (never fatal) when no strategy
// claims the content; the caller logs a warning and the raw content
// passes through unchanged (spec.md §4.2, §7).
var ErrNoStrategyMatched = errors.New("clean: no strategy matched content")

// Engine holds the fixed-order strategy chain and applies the shared
// post-processing pass spec.md §4.2 requires of every strategy's
// output.
type Engine struct {
	strategies []Strategy
	ocr        *OCRFallback // optional, may be nil
}

// NewEngine builds the canonical strategy chain in spec order: PDF,
// Word, other office formats, search pages, common content pages,
// markdown-from-HTML, HTML text, plain text.
func NewEngine(convert *ConvertClient, ocr *OCRFallback) *Engine {
	return &Engine{
		strategies: []Strategy{
			NewPDFStrategy(convert),
			NewWordStrategy(convert),
			NewOfficeStrategy(convert),
			NewSearchPageStrategy(),
			NewCommonContentPageStrategy(),
			NewMarkdownFromHTMLStrategy(),
			NewHTMLTextStrategy(),
			NewPlainTextStrategy(),
		},
		ocr: ocr,
	}
}

// Clean runs the dispatch chain for one document, applies the shared
// post-processing pass, and falls back to raw passthrough (optionally
// via OCR for image content) when nothing matches.
func (e *Engine) Clean(ctx context.Context, url, mimetype string, content []byte) (text string, matchedStrategy string, err error) {
	for _, s := range e.strategies {
		if !s.ShouldHandle(url, mimetype, content) {
			continue
		}
		out, cleanErr := s.Clean(ctx, mimetype, content)
		if cleanErr != nil {
			return "", s.Name(), cleanErr
		}
		return postProcess(out), s.Name(), nil
	}

	// Nothing matched. Per spec.md §4.2 the raw content passes through
	// unchanged; an image payload gets one more chance through OCR
	// before falling back, since the crawler may have handed us a
	// standalone image that no textual strategy can claim (supplements
	// the source's handler_factory binary-content path, which the
	// distilled spec is silent on).
	if e.ocr != nil && isImageMime(mimetype) {
		if out, ocrErr := e.ocr.Extract(ctx, content); ocrErr == nil && strings.TrimSpace(out) != "" {
			return postProcess(out), "ocr_fallback", nil
		}
	}
	return postProcess(string(content)), "passthrough", ErrNoStrategyMatched
}

var (
	base64ImagePattern = regexp.MustCompile(`data:image/(?:png|jpeg|jpg);base64,[A-Za-z0-9+/=]+`)
	multiBlankLines    = regexp.MustCompile(`\n{3,}`)
)

// postProcess applies the pass common to every strategy: collapse
// data:image/{png,jpeg,jpg};base64,... link targets to the literal
// "base64_image", and collapse excess multi-line whitespace.
func postProcess(s string) string {
	s = base64ImagePattern.ReplaceAllString(s, "base64_image")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func isImageMime(mimetype string) bool {
	switch strings.ToLower(mimetype) {
	case "image/png", "image/jpeg", "image/jpg", "image/tiff", "image/bmp", "image/gif":
		return true
	default:
		return false
	}
}

// dedupeConsecutiveLines removes runs of identical adjacent lines,
// used by the HTML-text strategy (spec.md §4.2 step 7).
func dedupeConsecutiveLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	var prev string
	first := true
	for _, line := range lines {
		if !first && line == prev {
			continue
		}
		out = append(out, line)
		prev = line
		first = false
	}
	return strings.Join(out, "\n")
}

// collapseWhitespacePerLine trims and collapses internal whitespace
// runs on every line, dropping empty lines (spec.md §4.2 step 8).
func collapseWhitespacePerLine(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}
