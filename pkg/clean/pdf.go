package clean

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFStrategy is cleaning strategy 1 of spec.md §4.2: accept
// application/pdf, render pages to images and run an external
// OCR/AI-to-markdown converter, then flatten markdown tables by
// turning rows into "header: value" lines. When the converter is
// unreachable it falls back to local text extraction (grounded on the
// teacher's pkg/extractor.PDFExtractor) so a single-binary deployment
// keeps working.
type PDFStrategy struct {
	convert *ConvertClient
}

func NewPDFStrategy(convert *ConvertClient) *PDFStrategy { return &PDFStrategy{convert: convert} }

func (p *PDFStrategy) Name() string { return "pdf" }

func (p *PDFStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.EqualFold(mimetype, "application/pdf")
}

func (p *PDFStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	if md, err := p.convert.Convert(ctx, content, "application/pdf"); err == nil && strings.TrimSpace(md) != "" {
		return flattenMarkdownTables(md), nil
	}
	return p.localExtract(content)
}

func (p *PDFStrategy) localExtract(content []byte) (string, error) {
	if len(content) < 4 || string(content[:4]) != "%PDF" {
		return "", fmt.Errorf("clean: not a valid PDF file")
	}
	reader := bytes.NewReader(content)
	doc, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("clean: failed to parse PDF: %w", err)
	}

	var out strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		out.WriteString(text)
		out.WriteString("\n\n")
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("clean: PDF contains no extractable text")
	}
	return text, nil
}

var markdownTableRow = regexp.MustCompile(`^\|(.+)\|$`)

// flattenMarkdownTables turns markdown table rows into "header: value"
// lines, per spec.md §4.2 step 1's post-processing rule.
func flattenMarkdownTables(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var out []string
	var headers []string
	inTable := false

	flushCell := func(header, value string) {
		header = strings.TrimSpace(header)
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		out = append(out, fmt.Sprintf("%s: %s", header, value))
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		m := markdownTableRow.FindStringSubmatch(trimmed)
		if m == nil {
			inTable = false
			headers = nil
			out = append(out, line)
			continue
		}
		cells := splitTableCells(m[1])
		if isTableSeparatorRow(cells) {
			continue
		}
		if !inTable {
			headers = cells
			inTable = true
			continue
		}
		for i, cell := range cells {
			header := fmt.Sprintf("column_%d", i+1)
			if i < len(headers) {
				header = headers[i]
			}
			flushCell(header, cell)
		}
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

func splitTableCells(row string) []string {
	parts := strings.Split(row, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func isTableSeparatorRow(cells []string) bool {
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
