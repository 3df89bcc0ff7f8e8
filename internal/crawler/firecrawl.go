package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sitesearch/core/pkg/retry"
)

// FirecrawlConfig holds the LLM-driven crawler's connection settings
// (spec.md §4.10/§6, optional crawler_type="firecrawl").
type FirecrawlConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FirecrawlClient implements the REST contract spec.md §6 describes for
// the optional LLM-driven crawler: scrape_url and crawl_url/
// check_crawl_status.
type FirecrawlClient struct {
	Cfg    FirecrawlConfig
	Client *http.Client
}

// NewFirecrawlClient builds a FirecrawlClient with a dedicated HTTP
// client timed out per cfg.Timeout, mirroring the indexer's embed/rerank
// clients rather than reusing the crawler's layered-timeout client
// (firecrawl requests are single round-trips to one trusted host, not
// arbitrary-site fetches).
func NewFirecrawlClient(cfg FirecrawlConfig) *FirecrawlClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &FirecrawlClient{Cfg: cfg, Client: &http.Client{Timeout: cfg.Timeout}}
}

// ScrapeResult is the single-page contract spec.md §4.10 names:
// {markdown, html, links, title, description, content}.
type ScrapeResult struct {
	Markdown    string   `json:"markdown"`
	HTML        string   `json:"html"`
	Links       []string `json:"links"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool         `json:"success"`
	Data    ScrapeResult `json:"data"`
	Error   string       `json:"error"`
}

// ScrapeURL fetches one page through the LLM-driven crawler.
func (c *FirecrawlClient) ScrapeURL(ctx context.Context, url string, formats []string) (ScrapeResult, error) {
	if len(formats) == 0 {
		formats = []string{"markdown", "html", "links"}
	}

	var out scrapeResponse
	err := retry.Do(ctx, retry.DefaultServicePolicy(), func(attempt int) error {
		body, err := json.Marshal(scrapeRequest{URL: url, Formats: formats})
		if err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Cfg.BaseURL+"/v1/scrape", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.Cfg.APIKey)

		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("firecrawl: scrape %s: server error %d", url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("firecrawl: scrape %s: status %d", url, resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("firecrawl: decode scrape response: %w", err))
		}
		if !out.Success {
			return retry.Permanent(fmt.Errorf("firecrawl: scrape %s failed: %s", url, out.Error))
		}
		return nil
	})
	if err != nil {
		return ScrapeResult{}, err
	}
	return out.Data, nil
}

type crawlRequest struct {
	URL     string            `json:"url"`
	Options map[string]string `json:"options,omitempty"`
}

type crawlResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

// CrawlURL starts a whole-site crawl, returning the job ID to poll with
// CheckCrawlStatus.
func (c *FirecrawlClient) CrawlURL(ctx context.Context, url string, options map[string]string) (string, error) {
	var out crawlResponse
	err := retry.Do(ctx, retry.DefaultServicePolicy(), func(attempt int) error {
		body, err := json.Marshal(crawlRequest{URL: url, Options: options})
		if err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Cfg.BaseURL+"/v1/crawl", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.Cfg.APIKey)

		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("firecrawl: crawl %s: server error %d", url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("firecrawl: crawl %s: status %d", url, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("firecrawl: decode crawl response: %w", err))
		}
		if !out.Success {
			return retry.Permanent(fmt.Errorf("firecrawl: crawl %s failed: %s", url, out.Error))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CrawlStatus is the polled result of a whole-site crawl job.
type CrawlStatus struct {
	Status string         `json:"status"`
	Total  int            `json:"total"`
	Data   []ScrapeResult `json:"data"`
}

// CheckCrawlStatus polls a whole-site crawl job started with CrawlURL.
func (c *FirecrawlClient) CheckCrawlStatus(ctx context.Context, id string) (CrawlStatus, error) {
	var out CrawlStatus
	err := retry.Do(ctx, retry.DefaultServicePolicy(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Cfg.BaseURL+"/v1/crawl/"+id, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.Cfg.APIKey)

		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("firecrawl: check status %s: server error %d", id, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("firecrawl: check status %s: status %d", id, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("firecrawl: decode status response: %w", err))
		}
		return nil
	})
	return out, err
}
