// Package indexworker implements the Indexer Worker (C8): dequeue
// queue:storage and route per index_operation into pkg/indexer's
// ingest/delete methods, then mark the document indexed.
package indexworker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/indexer"
	"github.com/sitesearch/core/pkg/logging"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/sitemodel"
	"github.com/sitesearch/core/pkg/worker"
)

const inputQueue = "storage"

// Worker is one Indexer Worker instance.
type Worker struct {
	Broker       *broker.Client
	Indexer      *indexer.Indexer
	Store        *storage.Store
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
}

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
			log.Error().Err(err).Msg("indexworker: claim batch failed")
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
			case worker.Processed, worker.Skipped:
				if err := w.Broker.AckSuccess(ctx, inputQueue, env, 0); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("indexworker: ack success failed")
				}
			case worker.Failed:
				if err := w.Broker.AckFailure(ctx, inputQueue, env, res.Err); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("indexworker: ack failure failed")
				}
			}
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, env broker.Envelope) worker.Result[struct{}] {
	logger := logging.GetWorkerLogger("indexer", env.TaskID)

	var in pipeline.StorageOutput
	if err := env.Decode(&in); err != nil {
		return worker.Fail[struct{}](err)
	}

	switch sitemodel.IndexOperation(in.IndexOperation) {
	case sitemodel.OpDelete:
		if err := w.Indexer.DeleteByContentHash(ctx, in.SiteID, in.ContentHash); err != nil {
			return worker.Fail[struct{}](err)
		}
		logger.Debug().Str("url", in.URL).Msg("deleted index entries")
		return worker.Ok(struct{}{})

	case sitemodel.OpNew, sitemodel.OpNewSite, sitemodel.OpEdit, sitemodel.OpSkip:
		doc := indexer.Document{
			SiteID:      in.SiteID,
			URL:         in.URL,
			Title:       in.Title,
			MimeType:    in.MimeType,
			ContentHash: in.ContentHash,
			CleanText:   in.CleanContent,
		}
		if err := w.Indexer.Ingest(ctx, doc); err != nil {
			return worker.Fail[struct{}](err)
		}
		if in.IndexOperation == string(sitemodel.OpEdit) && in.PreviousContentHash != "" && in.PreviousContentHash != in.ContentHash {
			if err := w.Indexer.DeleteByContentHash(ctx, in.SiteID, in.PreviousContentHash); err != nil {
				return worker.Fail[struct{}](err)
			}
			logger.Debug().Str("url", in.URL).Str("previous_content_hash", in.PreviousContentHash).Msg("retired stale chunks after edit")
		}
		if err := w.Store.MarkIndexed(ctx, in.DocumentID); err != nil {
			return worker.Fail[struct{}](err)
		}
		logger.Debug().Str("url", in.URL).Str("operation", in.IndexOperation).Msg("indexed document")
		return worker.Ok(struct{}{})

	default:
		return worker.Skip[struct{}](nil)
	}
}
