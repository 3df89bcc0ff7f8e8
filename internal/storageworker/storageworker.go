// Package storageworker implements the Storage Worker (C7): dequeue
// queue:cleaner, persist through internal/storage (spec.md §4.4), tag
// the envelope with document_id/index_operation, push to queue:storage.
package storageworker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/logging"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/sitemodel"
	"github.com/sitesearch/core/pkg/worker"
)

const (
	inputQueue  = "cleaner"
	outputQueue = "storage"
)

// Worker is one Storage Worker instance.
type Worker struct {
	Broker       *broker.Client
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
			log.Error().Err(err).Msg("storageworker: claim batch failed")
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
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("storageworker: ack success failed")
				}
			case worker.Skipped:
				if err := w.Broker.AckSkip(ctx, inputQueue, env); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("storageworker: ack skip failed")
				}
			case worker.Failed:
				if err := w.Broker.AckFailure(ctx, inputQueue, env, res.Err); err != nil {
					log.Error().Err(err).Str("task_id", env.TaskID).Msg("storageworker: ack failure failed")
				}
			}
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, env broker.Envelope) worker.Result[pipeline.StorageOutput] {
	logger := logging.GetWorkerLogger("storage", env.TaskID)

	var in pipeline.CleanerOutput
	if err := env.Decode(&in); err != nil {
		return worker.Fail[pipeline.StorageOutput](err)
	}
	if in.SiteID == "" {
		return worker.Fail[pipeline.StorageOutput](fmt.Errorf("storageworker: envelope missing site_id for %s", in.URL))
	}

	if in.Status == "delete" {
		return w.handleDelete(ctx, env, in, logger)
	}

	req := storage.StoreRequest{
		URL:            in.URL,
		RequestedSites: []string{in.SiteID},
		CleanedContent: in.CleanContent,
		MimeType:       in.MimeType,
		Title:          in.Title,
		CrawlerID:      in.CrawlerID,
		ContentHash:    in.ContentHash,
		Metadata:       flattenMetaTags(in.MetaTags),
		OutboundLinks:  in.Links,
	}
	doc, op, previousHash, err := w.Store.StoreDocument(ctx, req)
	if err != nil {
		return worker.Fail[pipeline.StorageOutput](err)
	}
	logger.Debug().Str("url", in.URL).Str("operation", string(op)).Msg("stored document")

	out := pipeline.StorageOutput{
		CleanerOutput:       in,
		DocumentID:          doc.ID,
		IndexOperation:      string(op),
		PreviousContentHash: previousHash,
	}
	if _, enqueueErr := w.Broker.EnqueueWithTaskID(ctx, outputQueue, env.TaskID, out); enqueueErr != nil {
		return worker.Fail[pipeline.StorageOutput](enqueueErr)
	}
	return worker.Ok(out)
}

// handleDelete implements spec.md §7/scenario S5: a crawler-synthesized
// delete envelope unbinds the site from the stored Document (and drops
// the Document once no site references it remain), then tags the
// downstream envelope with the deleted document's content hash so the
// Indexer Worker's OpDelete branch can retire its vector chunks.
func (w *Worker) handleDelete(ctx context.Context, env broker.Envelope, in pipeline.CleanerOutput, logger zerolog.Logger) worker.Result[pipeline.StorageOutput] {
	doc, err := w.Store.DeleteDocument(ctx, in.URL, in.SiteID)
	if err != nil {
		return worker.Fail[pipeline.StorageOutput](err)
	}
	logger.Debug().Str("url", in.URL).Msg("deleted document")

	in.ContentHash = doc.ContentHash
	out := pipeline.StorageOutput{
		CleanerOutput:  in,
		DocumentID:     doc.ID,
		IndexOperation: string(sitemodel.OpDelete),
	}
	if _, enqueueErr := w.Broker.EnqueueWithTaskID(ctx, outputQueue, env.TaskID, out); enqueueErr != nil {
		return worker.Fail[pipeline.StorageOutput](enqueueErr)
	}
	return worker.Ok(out)
}

func flattenMetaTags(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}
