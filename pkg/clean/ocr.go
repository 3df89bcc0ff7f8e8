//go:build ocr

package clean

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCRFallback runs Tesseract OCR over image content that no cleaning
// strategy claimed, per the Engine's last-resort image passthrough
// (grounded on the teacher's extractor.OCRExtractor, built only under
// the "ocr" tag since gosseract requires a system Tesseract install).
type OCRFallback struct {
	Language string
}

// NewOCRFallback builds an OCR fallback using the given Tesseract
// language code, defaulting to English.
func NewOCRFallback(language string) *OCRFallback {
	if language == "" {
		language = "eng"
	}
	return &OCRFallback{Language: language}
}

func (o *OCRFallback) Extract(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("clean: no image content provided for OCR")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(o.Language); err != nil {
		return "", fmt.Errorf("clean: failed to set OCR language %q: %w", o.Language, err)
	}
	if err := client.SetImageFromBytes(content); err != nil {
		return "", fmt.Errorf("clean: failed to set OCR image data: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("clean: OCR text extraction failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("clean: OCR could not extract any text from the image")
	}
	return text, nil
}
