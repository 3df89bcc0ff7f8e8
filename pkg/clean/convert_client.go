package clean

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sitesearch/core/pkg/retry"
)

// ConvertClient calls the external OCR/AI-to-markdown converter used
// by the PDF, Word and other-office-format strategies (spec.md §4.2
// steps 1-3). It is a black-box HTTP collaborator per spec.md §1; we
// only specify the client side of its contract.
type ConvertClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Policy     retry.Policy
}

// NewConvertClient builds a client with spec.md §5's 60s external-call
// timeout and 3-retry exponential backoff. A nil/empty BaseURL client
// is valid: its Convert calls always fail fast so callers fall back to
// local extraction.
func NewConvertClient(baseURL, apiKey string) *ConvertClient {
	return &ConvertClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Policy:     retry.DefaultServicePolicy(),
	}
}

type convertRequest struct {
	Content  []byte `json:"content"`
	MimeType string `json:"mimetype"`
}

type convertResponse struct {
	Markdown string `json:"markdown"`
}

// Convert posts raw content to the converter endpoint and returns the
// resulting markdown.
func (c *ConvertClient) Convert(ctx context.Context, content []byte, mimetype string) (string, error) {
	if c == nil || c.BaseURL == "" {
		return "", fmt.Errorf("clean: converter not configured")
	}

	body, err := json.Marshal(convertRequest{Content: content, MimeType: mimetype})
	if err != nil {
		return "", err
	}

	var markdown string
	err = retry.Do(ctx, c.Policy, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/convert", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err // transient network error, retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("clean: converter returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("clean: converter returned %d", resp.StatusCode))
		}

		var out convertResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024*1024)).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("clean: decode converter response: %w", err))
		}
		markdown = out.Markdown
		return nil
	})
	if err != nil {
		return "", err
	}
	return markdown, nil
}
