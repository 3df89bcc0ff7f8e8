package cleaner

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/clean"
	"github.com/sitesearch/core/pkg/pipeline"
	wrk "github.com/sitesearch/core/pkg/worker"
)

func newTestWorker(t *testing.T) (*Worker, *broker.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	b := broker.New(rdb)
	return &Worker{Broker: b, Engine: clean.NewEngine(nil, nil), Concurrency: 1}, b
}

func TestHandleOneCleansHTMLContent(t *testing.T) {
	w, b := newTestWorker(t)
	ctx := context.Background()

	in := pipeline.CrawlerOutput{
		URL:      "https://a.example/",
		Content:  "<html><body><p>Hello</p></body></html>",
		MimeType: "text/html",
		SiteID:   "site-1",
		TaskID:   "task-1",
	}
	_, err := b.EnqueueWithTaskID(ctx, inputQueue, "task-1", in)
	require.NoError(t, err)
	envs, err := b.ClaimBatch(ctx, inputQueue, 1)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	result := w.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Processed, result.Outcome)
	require.Contains(t, result.Value.CleanContent, "Hello")

	out, err := b.ClaimBatch(ctx, outputQueue, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestHandleOneForwardsDeleteEnvelopeWithoutCleaning(t *testing.T) {
	w, b := newTestWorker(t)
	ctx := context.Background()

	in := pipeline.CrawlerOutput{
		URL:    "https://a.example/gone",
		SiteID: "site-1",
		TaskID: "task-2",
		Status: "delete",
	}
	_, err := b.EnqueueWithTaskID(ctx, inputQueue, "task-2", in)
	require.NoError(t, err)
	envs, err := b.ClaimBatch(ctx, inputQueue, 1)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	result := w.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Processed, result.Outcome)
	require.Equal(t, "delete", result.Value.Status)
	require.Empty(t, result.Value.CleanContent)

	out, err := b.ClaimBatch(ctx, outputQueue, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	var forwarded pipeline.CleanerOutput
	require.NoError(t, out[0].Decode(&forwarded))
	require.Equal(t, "delete", forwarded.Status)
}

func TestHandleOneSkipsErrorStatus(t *testing.T) {
	w, b := newTestWorker(t)
	ctx := context.Background()

	in := pipeline.CrawlerOutput{URL: "https://a.example/x", SiteID: "site-1", TaskID: "task-3", Status: "error"}
	_, err := b.EnqueueWithTaskID(ctx, inputQueue, "task-3", in)
	require.NoError(t, err)
	envs, err := b.ClaimBatch(ctx, inputQueue, 1)
	require.NoError(t, err)

	result := w.handleOne(ctx, envs[0])
	require.Equal(t, wrk.Skipped, result.Outcome)
}
