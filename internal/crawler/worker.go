package crawler

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/logging"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/ratelimit"
	"github.com/sitesearch/core/pkg/sitemodel"
	"github.com/sitesearch/core/pkg/worker"
)

// TaskConfig is the per-task configuration a Crawler Worker pool is
// wired to at spawn time by the Manager (spec.md §4.10: "dedicated
// input queue queue:task:{task_id} and spawn N crawler workers wired
// to it").
type TaskConfig struct {
	TaskID          string
	SiteID          string
	CrawlerID       string
	IncludePatterns []string
	MaxURLs         int
	CrawlDelay      time.Duration
	CrawlerType     sitemodel.CrawlerType // zero value behaves as CrawlerHTTPX
}

// Worker is one Crawler Worker process for a single crawl task; the
// Manager spawns N of these sharing the same task queue and crawled
// set.
type Worker struct {
	Broker     *broker.Client
	Store      *storage.Store
	Limiter    *ratelimit.SiteLimiter
	HTTPClient *http.Client
	FetchCfg   FetchConfig
	Firecrawl  *FirecrawlClient // required when Task.CrawlerType == sitemodel.CrawlerFirecrawl
	Task       TaskConfig

	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
}

// Run claims envelopes from the task's input queue until ctx is
// cancelled or the queue is deleted out from under it by the Manager
// on task completion/cancellation (spec.md §5 "Cancellation").
func (w *Worker) Run(ctx context.Context) error {
	queueName := broker.TaskQueueName(w.Task.TaskID)

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 5
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

		envelopes, err := w.Broker.ClaimBatch(ctx, queueName, batchSize)
		if err != nil {
			log.Error().Err(err).Str("task_id", w.Task.TaskID).Msg("crawler: claim batch failed")
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
				if err := w.Broker.AckSuccess(ctx, queueName, env, 0); err != nil {
					log.Error().Err(err).Msg("crawler: ack success failed")
				}
			case worker.Skipped:
				if err := w.Broker.AckSkip(ctx, queueName, env); err != nil {
					log.Error().Err(err).Msg("crawler: ack skip failed")
				}
			case worker.Failed:
				if err := w.Broker.AckFailure(ctx, queueName, env, res.Err); err != nil {
					log.Error().Err(err).Msg("crawler: ack failure failed")
				}
			}
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, env broker.Envelope) worker.Result[pipeline.CrawlerOutput] {
	queueName := broker.TaskQueueName(w.Task.TaskID)
	logger := logging.GetWorkerLogger("crawler", env.TaskID)

	var in pipeline.TaskEnvelope
	if err := env.Decode(&in); err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}

	normalized, err := NormalizeURL(in.URL, nil)
	if err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}

	// Step 2: dedup against the task's crawled-URL set.
	already, err := w.Broker.IsCrawled(ctx, queueName, normalized)
	if err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}
	if already {
		return worker.Skip[pipeline.CrawlerOutput](nil)
	}

	// Step 3: max_urls bound.
	if w.Task.MaxURLs > 0 {
		count, err := w.Broker.CrawledCount(ctx, queueName)
		if err != nil {
			return worker.Fail[pipeline.CrawlerOutput](err)
		}
		if count >= int64(w.Task.MaxURLs) {
			if err := w.Broker.ClearPending(ctx, queueName); err != nil {
				log.Warn().Err(err).Str("task_id", w.Task.TaskID).Msg("crawler: failed to clear pending queue at max_urls bound")
			}
			return worker.Skip[pipeline.CrawlerOutput](nil)
		}
	}

	// Step 5: rate-limited fetch.
	if err := w.Limiter.Wait(ctx, w.Task.SiteID, w.Task.CrawlDelay); err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}

	var (
		body        []byte
		mimeType    string
		statusCode  int
		links       []string
		meta        PageMetadata
		crawlerType = sitemodel.CrawlerHTTPX
	)

	if w.Task.CrawlerType == sitemodel.CrawlerFirecrawl {
		scraped, err := w.Firecrawl.ScrapeURL(ctx, normalized, nil)
		if err != nil {
			w.Limiter.RecordError(w.Task.SiteID)
			if _, _, markErr := w.Broker.AddCrawled(ctx, queueName, normalized); markErr != nil {
				log.Warn().Err(markErr).Msg("crawler: failed to mark failed URL crawled")
			}
			return w.handleFetchError(ctx, normalized, err)
		}
		w.Limiter.RecordSuccess(w.Task.SiteID)

		body = []byte(scraped.Markdown)
		mimeType = "text/markdown"
		statusCode = http.StatusOK
		links = scraped.Links
		meta = PageMetadata{Title: scraped.Title, MetaTags: map[string]string{"description": scraped.Description}}
		crawlerType = sitemodel.CrawlerFirecrawl
	} else {
		result, fetchErr := Fetch(ctx, w.HTTPClient, w.FetchCfg, normalized)
		if fetchErr != nil {
			w.Limiter.RecordError(w.Task.SiteID)
			if _, _, markErr := w.Broker.AddCrawled(ctx, queueName, normalized); markErr != nil {
				log.Warn().Err(markErr).Msg("crawler: failed to mark failed URL crawled")
			}
			return w.handleFetchError(ctx, normalized, fetchErr)
		}
		w.Limiter.RecordSuccess(w.Task.SiteID)

		body = result.Body
		mimeType = result.MimeType
		statusCode = result.StatusCode

		pageURL, _ := url.Parse(normalized)
		if isTextMime(mimeType) {
			if extracted, err := ExtractLinks(body, pageURL); err == nil {
				links = extracted
			}
			if m, err := ExtractMetadata(body, pageURL); err == nil {
				meta = m
			}
		}
	}

	contentHash := sitemodel.ContentHash(body)

	// Step 10: BFS enqueue.
	for _, link := range links {
		normalizedLink, err := NormalizeURL(link, nil)
		if err != nil {
			continue
		}
		if !MatchesInclude(normalizedLink, w.Task.IncludePatterns) {
			continue
		}
		crawled, err := w.Broker.IsCrawled(ctx, queueName, normalizedLink)
		if err != nil || crawled {
			continue
		}
		taskEnv := pipeline.TaskEnvelope{URL: normalizedLink, SiteID: w.Task.SiteID, TaskID: w.Task.TaskID, Timestamp: time.Now().Unix()}
		if _, err := w.Broker.EnqueueWithTaskID(ctx, queueName, w.Task.TaskID, taskEnv); err != nil {
			log.Warn().Err(err).Str("url", normalizedLink).Msg("crawler: failed to enqueue discovered link")
		}
	}

	content := string(body)
	isBase64 := isBinaryMime(mimeType)
	if isBase64 {
		content = base64.StdEncoding.EncodeToString(body)
	}

	out := pipeline.CrawlerOutput{
		URL:             normalized,
		Content:         content,
		ContentIsBase64: isBase64,
		MimeType:        mimeType,
		Links:           links,
		Title:           meta.Title,
		MetaTags:        meta.MetaTags,
		Headings:        meta.Headings,
		ImageAlts:       meta.ImageAlts,
		ContentHash:     contentHash,
		SiteID:          w.Task.SiteID,
		CrawlerID:       w.Task.CrawlerID,
		CrawlerType:     string(crawlerType),
		TaskID:          w.Task.TaskID,
		Timestamp:       time.Now().Unix(),
		StatusCode:      statusCode,
	}

	if _, err := w.Broker.EnqueueWithTaskID(ctx, "crawler", w.Task.TaskID, out); err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}

	// Step 12: mark crawled.
	if _, _, err := w.Broker.AddCrawled(ctx, queueName, normalized); err != nil {
		log.Warn().Err(err).Msg("crawler: failed to mark URL crawled")
	}

	logger.Debug().Str("url", normalized).Str("mimetype", mimeType).Msg("crawled page")
	return worker.Ok(out)
}

// handleFetchError implements spec.md §7's "4xx/5xx on a
// previously-known URL synthesizes a crawler_operation=delete
// envelope": a non-2xx status on a URL Storage already knows about is
// forwarded downstream as a delete instruction instead of a bare skip.
func (w *Worker) handleFetchError(ctx context.Context, normalizedURL string, fetchErr error) worker.Result[pipeline.CrawlerOutput] {
	if _, ok := fetchErr.(*SkipError); !ok {
		return worker.Skip[pipeline.CrawlerOutput](fetchErr)
	}
	exists, _, _, err := w.Store.CheckExists(ctx, normalizedURL, w.Task.SiteID, "")
	if err != nil {
		return worker.Skip[pipeline.CrawlerOutput](fetchErr)
	}
	if !exists {
		return worker.Skip[pipeline.CrawlerOutput](fetchErr)
	}

	out := pipeline.CrawlerOutput{
		URL:         normalizedURL,
		SiteID:      w.Task.SiteID,
		CrawlerID:   w.Task.CrawlerID,
		TaskID:      w.Task.TaskID,
		Timestamp:   time.Now().Unix(),
		Status:      "error",
		StatusCode:  statusCodeOf(fetchErr),
	}
	if _, err := w.Broker.EnqueueWithTaskID(ctx, "crawler", w.Task.TaskID, deleteEnvelope(out)); err != nil {
		return worker.Fail[pipeline.CrawlerOutput](err)
	}
	return worker.Skip[pipeline.CrawlerOutput](fetchErr)
}

// deleteEnvelope tags a CrawlerOutput so downstream stages recognize a
// previously-known URL must be deleted rather than skipped.
func deleteEnvelope(out pipeline.CrawlerOutput) pipeline.CrawlerOutput {
	out.Status = "delete"
	return out
}

func statusCodeOf(err error) int {
	if skipErr, ok := err.(*SkipError); ok {
		return skipErr.StatusCode
	}
	return 0
}

func isTextMime(mimetype string) bool {
	lower := strings.ToLower(mimetype)
	return strings.HasPrefix(lower, "text/") || strings.Contains(lower, "html") || strings.Contains(lower, "xml")
}

func isBinaryMime(mimetype string) bool {
	return !isTextMime(mimetype)
}
