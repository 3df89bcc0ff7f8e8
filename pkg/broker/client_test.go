package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func TestEnqueueClaimAckSuccess(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	taskID, err := c.Enqueue(ctx, "crawler", map[string]string{"url": "https://a.example/"})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	envs, err := c.ClaimBatch(ctx, "crawler", 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, taskID, envs[0].TaskID)

	m, err := c.Metrics(ctx, "crawler")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Pending)
	require.Equal(t, int64(1), m.Processing)

	require.NoError(t, c.AckSuccess(ctx, "crawler", envs[0], 50*time.Millisecond))

	m, err = c.Metrics(ctx, "crawler")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Processing)
	require.Equal(t, int64(1), m.Completed)
	require.False(t, m.LastActivity.IsZero())
}

func TestAckSkipAndFailure(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "cleaner", "payload-1")
	require.NoError(t, err)
	envs, err := c.ClaimBatch(ctx, "cleaner", 1)
	require.NoError(t, err)
	require.NoError(t, c.AckSkip(ctx, "cleaner", envs[0]))

	m, err := c.Metrics(ctx, "cleaner")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Processing)
	require.Equal(t, int64(0), m.Completed)
	require.Equal(t, int64(0), m.Failed)

	_, err = c.Enqueue(ctx, "cleaner", "payload-2")
	require.NoError(t, err)
	envs, err = c.ClaimBatch(ctx, "cleaner", 1)
	require.NoError(t, err)
	require.NoError(t, c.AckFailure(ctx, "cleaner", envs[0], assertErr("boom")))

	m, err = c.Metrics(ctx, "cleaner")
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Failed)
}

func TestClaimBatchIsAtomicAcrossWorkers(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := c.Enqueue(ctx, "task:t1:queue", i)
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		envs, err := c.ClaimBatch(ctx, "task:t1:queue", 5)
		require.NoError(t, err)
		for _, e := range envs {
			require.False(t, seen[string(e.Payload)], "envelope claimed twice")
			seen[string(e.Payload)] = true
		}
	}
	require.Len(t, seen, 20)
}

func TestCrawledSetAndMaxURLsBound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	queueKey := TaskQueueName("t1")

	added, card, err := c.AddCrawled(ctx, queueKey, "https://a.example/")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, int64(1), card)

	added, card, err = c.AddCrawled(ctx, queueKey, "https://a.example/")
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, int64(1), card)

	ok, err := c.IsCrawled(ctx, queueKey, "https://a.example/")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteQueueRemovesAllKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "task:t2:queue", "x")
	require.NoError(t, err)
	_, _, err = c.AddCrawled(ctx, "task:t2:queue", "https://a.example/")
	require.NoError(t, err)

	require.NoError(t, c.DeleteQueue(ctx, "task:t2:queue"))

	m, err := c.Metrics(ctx, "task:t2:queue")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Pending)
	count, err := c.CrawledCount(ctx, "task:t2:queue")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
