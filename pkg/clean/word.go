package clean

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// wordMime is the OOXML Word content type spec.md §4.2 step 2 names.
const wordMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// WordStrategy is cleaning strategy 2: same external converter path as
// PDF, falling back to local DOCX text extraction (grounded on the
// teacher's pkg/extractor.DOCXExtractor).
type WordStrategy struct {
	convert *ConvertClient
}

func NewWordStrategy(convert *ConvertClient) *WordStrategy { return &WordStrategy{convert: convert} }

func (w *WordStrategy) Name() string { return "word" }

func (w *WordStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.EqualFold(mimetype, wordMime)
}

func (w *WordStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	if md, err := w.convert.Convert(ctx, content, wordMime); err == nil && strings.TrimSpace(md) != "" {
		return md, nil
	}
	return w.localExtract(content)
}

func (w *WordStrategy) localExtract(content []byte) (string, error) {
	if len(content) < 4 || content[0] != 0x50 || content[1] != 0x4B {
		return "", fmt.Errorf("clean: not a valid DOCX file - missing ZIP signature")
	}
	reader := bytes.NewReader(content)
	doc, err := docx.ReadDocxFromMemory(reader, int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse DOCX: %w", err)
	}
	text := doc.Editable().GetContent()
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("clean: DOCX document contains no extractable text")
	}
	return text, nil
}
