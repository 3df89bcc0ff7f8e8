//go:build !ocr

package clean

import (
	"context"
	"fmt"
)

// OCRFallback is the no-Tesseract stand-in used when the module is
// built without the "ocr" tag; Extract always fails and the Engine
// falls through to raw passthrough.
type OCRFallback struct {
	Language string
}

func NewOCRFallback(language string) *OCRFallback {
	if language == "" {
		language = "eng"
	}
	return &OCRFallback{Language: language}
}

func (o *OCRFallback) Extract(ctx context.Context, content []byte) (string, error) {
	return "", fmt.Errorf("clean: OCR support not compiled in (build with -tags ocr)")
}
