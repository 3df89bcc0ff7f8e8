package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/ratelimit"
	"github.com/sitesearch/core/pkg/sitemodel"
	wrk "github.com/sitesearch/core/pkg/worker"
)

func newTestWorker(t *testing.T, server *httptest.Server, taskID string) *Worker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Worker{
		Broker:     broker.New(rdb),
		Limiter:    ratelimit.NewSiteLimiter(),
		HTTPClient: server.Client(),
		FetchCfg:   DefaultFetchConfig(),
		Task: TaskConfig{
			TaskID:          taskID,
			SiteID:          "site-1",
			CrawlerID:       "crawler-1",
			IncludePatterns: nil,
			MaxURLs:         100,
		},
		Concurrency: 1,
	}
}

func TestHandleOneCrawlsAndEnqueuesDiscoveredLinks(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><head><title>Home</title></head><body><a href="` + server.URL + `/about">About</a></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cw := newTestWorker(t, server, "task-1")
	ctx := context.Background()

	queue := broker.TaskQueueName("task-1")
	_, err := cw.Broker.EnqueueWithTaskID(ctx, queue, "task-1", pipeline.TaskEnvelope{URL: server.URL + "/", SiteID: "site-1", TaskID: "task-1"})
	require.NoError(t, err)

	envs, err := cw.Broker.ClaimBatch(ctx, queue, 1)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	result := cw.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Processed, result.Outcome)
	require.Equal(t, "Home", result.Value.Title)
	require.NotEmpty(t, result.Value.ContentHash)
	require.Contains(t, result.Value.Links, server.URL+"/about")

	// discovered link should have been BFS-enqueued onto the task queue
	remaining, err := cw.Broker.ClaimBatch(ctx, queue, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	var discovered pipeline.TaskEnvelope
	require.NoError(t, remaining[0].Decode(&discovered))
	require.Equal(t, server.URL+"/about/", discovered.URL)

	// downstream crawler output should have landed on queue:crawler
	out, err := cw.Broker.ClaimBatch(ctx, "crawler", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestHandleOneSkipsAlreadyCrawledURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cw := newTestWorker(t, server, "task-2")
	ctx := context.Background()
	queue := broker.TaskQueueName("task-2")

	_, _, err := cw.Broker.AddCrawled(ctx, queue, server.URL+"/")
	require.NoError(t, err)

	_, err = cw.Broker.EnqueueWithTaskID(ctx, queue, "task-2", pipeline.TaskEnvelope{URL: server.URL + "/", SiteID: "site-1", TaskID: "task-2"})
	require.NoError(t, err)
	envs, err := cw.Broker.ClaimBatch(ctx, queue, 1)
	require.NoError(t, err)

	result := cw.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Skipped, result.Outcome)
}

func TestHandleOneDispatchesToFirecrawlForFirecrawlCrawlerType(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	firecrawlServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/scrape", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"markdown":    "# Hello",
				"title":       "Hello Page",
				"description": "a test page",
				"links":       []string{target.URL + "/child"},
			},
		})
	}))
	defer firecrawlServer.Close()

	cw := newTestWorker(t, target, "task-4")
	cw.Task.CrawlerType = sitemodel.CrawlerFirecrawl
	cw.Firecrawl = NewFirecrawlClient(FirecrawlConfig{BaseURL: firecrawlServer.URL, APIKey: "test-key"})
	ctx := context.Background()
	queue := broker.TaskQueueName("task-4")

	_, err := cw.Broker.EnqueueWithTaskID(ctx, queue, "task-4", pipeline.TaskEnvelope{URL: target.URL + "/", SiteID: "site-1", TaskID: "task-4"})
	require.NoError(t, err)
	envs, err := cw.Broker.ClaimBatch(ctx, queue, 1)
	require.NoError(t, err)

	result := cw.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Processed, result.Outcome)
	require.Equal(t, "Hello Page", result.Value.Title)
	require.Equal(t, string(sitemodel.CrawlerFirecrawl), result.Value.CrawlerType)
	require.Contains(t, result.Value.Links, target.URL+"/child")
}

func TestHandleOneRespectsMaxURLsBound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cw := newTestWorker(t, server, "task-3")
	cw.Task.MaxURLs = 1
	ctx := context.Background()
	queue := broker.TaskQueueName("task-3")

	_, _, err := cw.Broker.AddCrawled(ctx, queue, "https://already.example/one")
	require.NoError(t, err)

	_, err = cw.Broker.EnqueueWithTaskID(ctx, queue, "task-3", pipeline.TaskEnvelope{URL: server.URL + "/new", SiteID: "site-1", TaskID: "task-3"})
	require.NoError(t, err)
	envs, err := cw.Broker.ClaimBatch(ctx, queue, 1)
	require.NoError(t, err)

	result := cw.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Skipped, result.Outcome)
}
