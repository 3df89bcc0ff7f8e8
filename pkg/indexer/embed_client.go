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

// EmbedClient calls the external embedding service (spec.md §6): dense
// vectors via a standard embedding model, sparse vectors via a
// BGE-M3-style sparse encoder, both behind the same POST /embeddings
// contract.
type EmbedClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Policy     retry.Policy
}

// NewEmbedClient builds a client with spec.md §5's 60s timeout and
// 3-retry 1-10s exponential backoff for external embedding calls.
func NewEmbedClient(baseURL, apiKey, model string) *EmbedClient {
	return &EmbedClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Policy:     retry.DefaultServicePolicy(),
	}
}

type embedRequest struct {
	Input            []string `json:"input"`
	Model            string   `json:"model,omitempty"`
	ReturnDense      bool     `json:"return_dense"`
	ReturnSparse     bool     `json:"return_sparse"`
	ReturnColbertVecs bool    `json:"return_colbert_vecs"`
}

// EmbedDatum is one element of the embedding service's "data" array.
// Embedding is a dense float vector when the service returned
// return_dense, and/or SparseEmbedding is a token_id->weight map when
// it returned return_sparse.
type EmbedDatum struct {
	Index           int                `json:"index"`
	Embedding       []float32          `json:"embedding,omitempty"`
	SparseEmbedding map[string]float32 `json:"sparse_embedding,omitempty"`
}

type embedResponse struct {
	Data  []EmbedDatum `json:"data"`
	Model string       `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed posts texts to the embedding service and returns per-input
// dense and/or sparse vectors, in input order (spec.md §4.3 step 3,
// §6).
func (c *EmbedClient) Embed(ctx context.Context, texts []string, dense, sparse bool) ([]EmbedDatum, error) {
	if c == nil || c.BaseURL == "" {
		return nil, fmt.Errorf("indexer: embedding service not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{
		Input:        texts,
		Model:        c.Model,
		ReturnDense:  dense,
		ReturnSparse: sparse,
	})
	if err != nil {
		return nil, err
	}

	var out []EmbedDatum
	err = retry.Do(ctx, c.Policy, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embeddings", bytes.NewReader(body))
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
			return fmt.Errorf("indexer: embedding service returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("indexer: embedding service returned %d", resp.StatusCode))
		}

		var decoded embedResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024*1024)).Decode(&decoded); err != nil {
			return retry.Permanent(fmt.Errorf("indexer: decode embedding response: %w", err))
		}
		out = decoded.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
