package indexer

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

// DefaultRerankCutoff is the similarity score below which a reranked
// result is dropped (spec.md §4.3 retrieval).
const DefaultRerankCutoff = 0.6

// RerankClient calls a JinaRerank-compatible external reranker
// (spec.md §6): POST {query, documents, top_n, model} -> ranked
// indices with scores.
type RerankClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Policy     retry.Policy
}

func NewRerankClient(baseURL, apiKey, model string) *RerankClient {
	return &RerankClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Policy:     retry.DefaultServicePolicy(),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
	Model     string   `json:"model,omitempty"`
}

// RerankResult is one ranked candidate returned by the reranker.
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// Rerank scores candidateTexts against query and returns the topN
// highest scoring, sorted best-first.
func (c *RerankClient) Rerank(ctx context.Context, query string, candidateTexts []string, topN int) ([]RerankResult, error) {
	if c == nil || c.BaseURL == "" {
		return nil, fmt.Errorf("indexer: reranker not configured")
	}
	if len(candidateTexts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: candidateTexts, TopN: topN, Model: c.Model})
	if err != nil {
		return nil, err
	}

	var out []RerankResult
	err = retry.Do(ctx, c.Policy, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("indexer: reranker returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("indexer: reranker returned %d", resp.StatusCode))
		}

		var decoded rerankResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 16*1024*1024)).Decode(&decoded); err != nil {
			return retry.Permanent(fmt.Errorf("indexer: decode reranker response: %w", err))
		}
		out = decoded.Results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
