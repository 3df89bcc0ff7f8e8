package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/pkg/retry"
)

// maxProcessingTimes bounds the processing_times:Q ring (spec.md §4.1:
// "bounded (<=100) ring of recent per-task durations, oldest evicted").
const maxProcessingTimes = 100

// Client is a thin layer over a Redis-compatible broker exposing the
// FIFO/set/hash primitives spec.md §4.1 requires: per-queue
// pending/processing/completed/failed sub-queues, a processing-time
// ring and a last-activity timestamp.
type Client struct {
	rdb    redis.UniversalClient
	policy retry.Policy
}

// New wraps an existing redis client. Callers own the underlying
// connection's lifecycle.
func New(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb, policy: retry.DefaultBrokerPolicy()}
}

// Metrics reports the state of a logical queue per spec.md §4.1.
type Metrics struct {
	Pending            int64
	Processing         int64
	Completed          int64
	Failed             int64
	AvgProcessingTime   time.Duration
	LastActivity       time.Time
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(ctx, c.policy, func(attempt int) error {
		err := fn()
		if err != nil && attempt < c.policy.MaxAttempts {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("broker operation failed, retrying")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("broker: %s: %w", op, err)
	}
	return nil
}

// Enqueue pushes payload as a fresh envelope onto queue Q's pending
// list and returns the generated task id (spec.md §4.1 enqueue).
func (c *Client) Enqueue(ctx context.Context, queue string, payload any) (string, error) {
	return c.EnqueueWithTaskID(ctx, queue, "", payload)
}

// EnqueueWithTaskID behaves like Enqueue but preserves an existing
// task id across stages (spec.md §3 invariant 6), generating one only
// if taskID is empty.
func (c *Client) EnqueueWithTaskID(ctx context.Context, queue, taskID string, payload any) (string, error) {
	env, err := NewEnvelope(taskID, payload)
	if err != nil {
		return "", fmt.Errorf("broker: marshal envelope: %w", err)
	}
	serialized, err := env.serialize()
	if err != nil {
		return "", err
	}
	err = c.withRetry(ctx, "enqueue", func() error {
		return c.rdb.LPush(ctx, pendingKey(queue), serialized).Err()
	})
	if err != nil {
		return "", err
	}
	c.touchLastActivity(ctx, queue)
	return env.TaskID, nil
}

// ClaimBatch atomically pops up to n envelopes from the tail of
// queue:Q and moves them into processing:Q (spec.md §4.1 claim_batch),
// using the broker's atomic list-move primitive so no two workers can
// claim the same envelope.
func (c *Client) ClaimBatch(ctx context.Context, queue string, n int) ([]Envelope, error) {
	if n <= 0 {
		return nil, nil
	}
	envelopes := make([]Envelope, 0, n)
	for i := 0; i < n; i++ {
		var raw string
		err := c.withRetry(ctx, "claim_batch", func() error {
			v, err := c.rdb.LMove(ctx, pendingKey(queue), processingKey(queue), "right", "left").Result()
			if err == redis.Nil {
				return nil
			}
			raw = v
			return err
		})
		if err != nil {
			return envelopes, err
		}
		if raw == "" {
			break
		}
		env, err := deserializeEnvelope(raw)
		if err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("broker: dropping malformed envelope")
			continue
		}
		envelopes = append(envelopes, env)
	}
	if len(envelopes) > 0 {
		c.touchLastActivity(ctx, queue)
	}
	return envelopes, nil
}

// AckSuccess removes env from processing:Q, records it in completed:Q
// and pushes duration into the processing-time ring.
func (c *Client) AckSuccess(ctx context.Context, queue string, env Envelope, duration time.Duration) error {
	serialized, err := env.serialize()
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, "ack_success", func() error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey(queue), 1, serialized)
		pipe.LPush(ctx, completedKey(queue), serialized)
		pipe.LPush(ctx, processingTimesKey(queue), duration.Milliseconds())
		pipe.LTrim(ctx, processingTimesKey(queue), 0, maxProcessingTimes-1)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	c.touchLastActivity(ctx, queue)
	return nil
}

// AckSkip removes env from processing:Q with no further record
// (spec.md §4.1 ack_skip).
func (c *Client) AckSkip(ctx context.Context, queue string, env Envelope) error {
	serialized, err := env.serialize()
	if err != nil {
		return err
	}
	return c.withRetry(ctx, "ack_skip", func() error {
		return c.rdb.LRem(ctx, processingKey(queue), 1, serialized).Err()
	})
}

// AckFailure removes env from processing:Q and records it, with the
// error, in failed:Q (spec.md §4.1 ack_failure).
func (c *Client) AckFailure(ctx context.Context, queue string, env Envelope, cause error) error {
	serialized, err := env.serialize()
	if err != nil {
		return err
	}
	rec := failureRecord{Error: cause.Error(), Envelope: env, Timestamp: time.Now().UTC()}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, "ack_failure", func() error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, processingKey(queue), 1, serialized)
		pipe.LPush(ctx, failedKey(queue), string(recJSON))
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	c.touchLastActivity(ctx, queue)
	return nil
}

// Metrics returns {pending, processing, completed, failed,
// avg_processing_time, last_activity} for queue Q (spec.md §4.1).
func (c *Client) Metrics(ctx context.Context, queue string) (Metrics, error) {
	pipe := c.rdb.Pipeline()
	pendingCmd := pipe.LLen(ctx, pendingKey(queue))
	processingCmd := pipe.LLen(ctx, processingKey(queue))
	completedCmd := pipe.LLen(ctx, completedKey(queue))
	failedCmd := pipe.LLen(ctx, failedKey(queue))
	timesCmd := pipe.LRange(ctx, processingTimesKey(queue), 0, -1)
	lastActivityCmd := pipe.Get(ctx, lastActivityKey(queue))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return Metrics{}, fmt.Errorf("broker: metrics: %w", err)
	}

	var avg time.Duration
	times := timesCmd.Val()
	if len(times) > 0 {
		var sum int64
		for _, t := range times {
			var ms int64
			fmt.Sscanf(t, "%d", &ms)
			sum += ms
		}
		avg = time.Duration(sum/int64(len(times))) * time.Millisecond
	}

	var lastActivity time.Time
	if epoch := lastActivityCmd.Val(); epoch != "" {
		var sec int64
		fmt.Sscanf(epoch, "%d", &sec)
		lastActivity = time.Unix(sec, 0).UTC()
	}

	return Metrics{
		Pending:           pendingCmd.Val(),
		Processing:        processingCmd.Val(),
		Completed:         completedCmd.Val(),
		Failed:            failedCmd.Val(),
		AvgProcessingTime: avg,
		LastActivity:      lastActivity,
	}, nil
}

func (c *Client) touchLastActivity(ctx context.Context, queue string) {
	if err := c.rdb.Set(ctx, lastActivityKey(queue), time.Now().Unix(), 0).Err(); err != nil {
		log.Warn().Err(err).Str("queue", queue).Msg("broker: failed to update last_activity")
	}
}

// DeleteQueue drops every key associated with queue Q: used by the
// Manager on task completion/cancellation (spec.md §4.10, §4.5 "task's
// BFS frontier").
func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	keys := []string{
		pendingKey(queue), processingKey(queue), completedKey(queue), failedKey(queue),
		lastActivityKey(queue), processingTimesKey(queue), CrawledURLsKey(queue),
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// AddCrawled adds a normalized URL to a task's crawled-URL set and
// returns the new set cardinality (spec.md §4.5 steps 2-3).
func (c *Client) AddCrawled(ctx context.Context, queueKey, url string) (added bool, cardinality int64, err error) {
	pipe := c.rdb.Pipeline()
	addCmd := pipe.SAdd(ctx, CrawledURLsKey(queueKey), url)
	cardCmd := pipe.SCard(ctx, CrawledURLsKey(queueKey))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return false, 0, err
	}
	return addCmd.Val() > 0, cardCmd.Val(), nil
}

// IsCrawled reports whether url is already in the task's crawled set.
func (c *Client) IsCrawled(ctx context.Context, queueKey, url string) (bool, error) {
	return c.rdb.SIsMember(ctx, CrawledURLsKey(queueKey), url).Result()
}

// CrawledCount returns the cardinality of the task's crawled-URL set.
func (c *Client) CrawledCount(ctx context.Context, queueKey string) (int64, error) {
	return c.rdb.SCard(ctx, CrawledURLsKey(queueKey)).Result()
}

// ClearPending empties queue Q's pending list (spec.md §4.5 step 3:
// "clear the pending queue" once max_urls is reached).
func (c *Client) ClearPending(ctx context.Context, queue string) error {
	return c.rdb.Del(ctx, pendingKey(queue)).Err()
}

// DocStorePut/Get/Delete implement the indexer's chunk document-store
// namespace (spec.md §4.3) as a Redis hash keyed sitesearch:{site}:docs.
func (c *Client) DocStorePut(ctx context.Context, siteID, chunkID, chunkJSON string) error {
	return c.rdb.HSet(ctx, DocStoreKey(siteID), chunkID, chunkJSON).Err()
}

func (c *Client) DocStoreGet(ctx context.Context, siteID, chunkID string) (string, bool, error) {
	v, err := c.rdb.HGet(ctx, DocStoreKey(siteID), chunkID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) DocStoreDelete(ctx context.Context, siteID string, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return c.rdb.HDel(ctx, DocStoreKey(siteID), chunkIDs...).Err()
}
