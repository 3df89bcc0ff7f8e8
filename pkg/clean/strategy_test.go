package clean

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDispatchOrderPrefersPDF(t *testing.T) {
	engine := NewEngine(NewConvertClient("", ""), NewOCRFallback(""))
	text, strategy, err := engine.Clean(context.Background(), "https://a.example/doc.pdf", "application/pdf", []byte("not a real pdf"))
	require.Error(t, err)
	assert.Equal(t, "pdf", strategy)
	assert.Empty(t, text)
}

func TestEngineFallsThroughToMarkdownFromHTML(t *testing.T) {
	engine := NewEngine(NewConvertClient("", ""), NewOCRFallback(""))
	html := `<html><body><div id="main"><p>Hello <b>world</b></p></div></body></html>`
	text, strategy, err := engine.Clean(context.Background(), "https://a.example/about", "text/html", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "markdown_from_html", strategy)
	assert.Contains(t, text, "Hello")
}

func TestEnginePrefersSearchPageOverMarkdown(t *testing.T) {
	engine := NewEngine(NewConvertClient("", ""), NewOCRFallback(""))
	html := `<html><body><div id="content"><p>results</p></div></body></html>`
	text, strategy, err := engine.Clean(context.Background(), "https://a.example/teacher-search?q=x", "text/html", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "search_page", strategy)
	assert.Contains(t, text, "results")
}

func TestEnginePlainTextCatchAll(t *testing.T) {
	engine := NewEngine(NewConvertClient("", ""), NewOCRFallback(""))
	text, strategy, err := engine.Clean(context.Background(), "https://a.example/f.txt", "text/plain", []byte("  hello   world  \n\n\nfoo  "))
	require.NoError(t, err)
	assert.Equal(t, "plain_text", strategy)
	assert.Equal(t, "hello world\nfoo", text)
}

func TestEngineNoStrategyMatchedPassesThrough(t *testing.T) {
	engine := NewEngine(NewConvertClient("", ""), NewOCRFallback(""))
	text, strategy, err := engine.Clean(context.Background(), "https://a.example/data.bin", "application/octet-stream", []byte("raw bytes"))
	assert.ErrorIs(t, err, ErrNoStrategyMatched)
	assert.Equal(t, "passthrough", strategy)
	assert.Equal(t, "raw bytes", text)
}

func TestPostProcessReplacesBase64Images(t *testing.T) {
	in := "see ![x](data:image/png;base64,AAAA==) here\n\n\n\nmore"
	out := postProcess(in)
	assert.Contains(t, out, "base64_image")
	assert.NotContains(t, out, "AAAA==")
	assert.NotContains(t, out, "\n\n\n")
}

func TestFlattenMarkdownTables(t *testing.T) {
	md := "| Name | Age |\n| --- | --- |\n| Alice | 30 |\n"
	out := flattenMarkdownTables(md)
	assert.Contains(t, out, "Name: Alice")
	assert.Contains(t, out, "Age: 30")
}

func TestConvertClientDoesNotRetry4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewConvertClient(srv.URL, "")
	_, err := c.Convert(context.Background(), []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

func TestWordStrategyRejectsNonZIPContent(t *testing.T) {
	w := NewWordStrategy(NewConvertClient("", ""))
	_, err := w.Clean(context.Background(), wordMime, []byte("not a docx"))
	assert.Error(t, err)
}

func TestHTMLTextStrategyDedupesConsecutiveLines(t *testing.T) {
	h := NewHTMLTextStrategy()
	html := `<html><body><p>hello</p><p>hello</p><p>world</p></body></html>`
	text, err := h.Clean(context.Background(), "text/html", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)
}
