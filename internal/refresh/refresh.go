// Package refresh implements the Refresh Worker (C9): dequeue
// queue:refresh, enumerate a site's Documents in bounded batches,
// filter by URL pattern and age, and re-enqueue each URL into its
// crawl task's input queue.
package refresh

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/worker"
)

const inputQueue = "refresh"

// Worker is one Refresh Worker instance.
type Worker struct {
	Broker       *broker.Client
	Store        *storage.Store
	BatchSize    int
	PollInterval time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 4
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		envelopes, err := w.Broker.ClaimBatch(ctx, inputQueue, batchSize)
		if err != nil {
			log.Error().Err(err).Msg("refresh: claim batch failed")
			time.Sleep(poll)
			continue
		}
		if len(envelopes) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(poll):
			}
			continue
		}

		for _, env := range envelopes {
			if err := w.handleOne(ctx, env); err != nil {
				log.Error().Err(err).Str("task_id", env.TaskID).Msg("refresh: task failed")
				if ackErr := w.Broker.AckFailure(ctx, inputQueue, env, err); ackErr != nil {
					log.Error().Err(ackErr).Msg("refresh: ack failure failed")
				}
				continue
			}
			if err := w.Broker.AckSuccess(ctx, inputQueue, env, 0); err != nil {
				log.Error().Err(err).Str("task_id", env.TaskID).Msg("refresh: ack success failed")
			}
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, env broker.Envelope) error {
	var task pipeline.RefreshTask
	if err := env.Decode(&task); err != nil {
		return err
	}

	includeAll, include, err := compilePatterns(task.URLPatterns)
	if err != nil {
		return err
	}
	_, exclude, err := compilePatterns(task.ExcludePatterns)
	if err != nil {
		return err
	}

	maxAge := time.Duration(task.MaxAgeDays) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)
	queue := broker.TaskQueueName(task.CrawlTaskID)

	afterID := ""
	dispatched := 0
	for {
		docs, err := w.Store.ListDocumentsForSite(ctx, task.SiteID, afterID, 0)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}
		for _, doc := range docs {
			afterID = doc.ID
			if task.MaxAgeDays > 0 && doc.UpdatedAt.After(cutoff) {
				continue
			}
			if !includeAll && !matchesAny(include, doc.URL) {
				continue
			}
			if matchesAny(exclude, doc.URL) {
				continue
			}
			taskEnv := pipeline.TaskEnvelope{URL: doc.URL, SiteID: task.SiteID, TaskID: task.CrawlTaskID, Timestamp: time.Now().Unix()}
			if _, err := w.Broker.EnqueueWithTaskID(ctx, queue, task.CrawlTaskID, taskEnv); err != nil {
				return err
			}
			dispatched++
		}
	}

	log.Info().Str("site_id", task.SiteID).Int("dispatched", dispatched).Msg("refresh: dispatched documents for re-crawl")

	policy, err := w.Store.GetRefreshPolicyForSite(ctx, task.SiteID)
	if err != nil {
		return err
	}
	now := time.Now()
	next := now.Add(time.Duration(policy.RefreshIntervalDays) * 24 * time.Hour)
	return w.Store.UpdateRefreshPolicyTimestamps(ctx, policy.ID, now, next)
}

// compilePatterns reports matchAll=true when patterns is empty or
// contains the literal "*" (spec.md §4.5's include-regex-or-"*" rule,
// reused here for refresh URL/exclude patterns).
func compilePatterns(patterns []string) (matchAll bool, compiled []*regexp.Regexp, err error) {
	if len(patterns) == 0 {
		return true, nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "*" {
			return true, nil, nil
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return false, nil, err
		}
		out = append(out, re)
	}
	return false, out, nil
}

// matchesAny reports whether url matches at least one of patterns.
func matchesAny(patterns []*regexp.Regexp, url string) bool {
	for _, re := range patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
