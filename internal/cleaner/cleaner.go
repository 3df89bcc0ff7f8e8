// Package cleaner implements the Cleaner Worker (C6): dequeue
// queue:crawler, apply the spec.md §4.2 cleaning strategies, and push
// the cleaned envelope onto queue:cleaner.
package cleaner

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/clean"
	"github.com/sitesearch/core/pkg/logging"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/worker"
)

const (
	inputQueue  = "crawler"
	outputQueue = "cleaner"
)

// Worker is one Cleaner Worker instance; several may run concurrently
// over the same queues (spec.md §4.10: shared component, pool size
// configurable).
type Worker struct {
	Broker      *broker.Client
	Engine      *clean.Engine
	BatchSize   int
	Concurrency int
	PollInterval time.Duration
}

// Run claims batches from queue:crawler until ctx is cancelled,
// processing each envelope through the cleaning engine and acking
// success/skip/failure per spec.md §4.6.
func (w *Worker) Run(ctx context.Context) error {
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		envelopes, err := w.Broker.ClaimBatch(ctx, inputQueue, batchSize)
		if err != nil {
			log.Error().Err(err).Msg("cleaner: claim batch failed")
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

		results := worker.RunConcurrent(ctx, envelopes, w.Concurrency, w.handleOne)
		for i, res := range results {
			env := envelopes[i]
			switch res.Outcome {
			case worker.Processed:
				if err := w.Broker.AckSuccess(ctx, inputQueue, env, 0); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("cleaner: ack success failed")
				}
			case worker.Skipped:
				if err := w.Broker.AckSkip(ctx, inputQueue, env); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("cleaner: ack skip failed")
				}
			case worker.Failed:
				if err := w.Broker.AckFailure(ctx, inputQueue, env, res.Err); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("cleaner: ack failure failed")
				}
			}
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, env broker.Envelope) worker.Result[pipeline.CleanerOutput] {
	logger := logging.GetWorkerLogger("cleaner", env.TaskID)

	var in pipeline.CrawlerOutput
	if err := env.Decode(&in); err != nil {
		return worker.Fail[pipeline.CleanerOutput](err)
	}

	if in.Status == "error" || in.Status == "skipped" {
		return worker.Skip[pipeline.CleanerOutput](nil)
	}

	// A crawler-synthesized delete envelope (spec.md §7) carries no
	// content to clean; forward it as-is so Storage can act on it.
	if in.Status == "delete" {
		out := pipeline.CleanerOutput{CrawlerOutput: in}
		if _, enqueueErr := w.Broker.EnqueueWithTaskID(ctx, outputQueue, env.TaskID, out); enqueueErr != nil {
			return worker.Fail[pipeline.CleanerOutput](enqueueErr)
		}
		return worker.Ok(out)
	}

	raw := []byte(in.Content)
	if in.ContentIsBase64 {
		decoded, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return worker.Fail[pipeline.CleanerOutput](err)
		}
		raw = decoded
	}

	cleanText, matched, err := w.Engine.Clean(ctx, in.URL, in.MimeType, raw)
	if err != nil && cleanText == "" {
		return worker.Fail[pipeline.CleanerOutput](err)
	}
	logger.Debug().Str("url", in.URL).Str("strategy", matched).Msg("cleaned document")

	out := pipeline.CleanerOutput{
		CrawlerOutput:   in,
		CleanContent:    cleanText,
		MatchedStrategy: matched,
	}
	if _, enqueueErr := w.Broker.EnqueueWithTaskID(ctx, outputQueue, env.TaskID, out); enqueueErr != nil {
		return worker.Fail[pipeline.CleanerOutput](enqueueErr)
	}
	return worker.Ok(out)
}
