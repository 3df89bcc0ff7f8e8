// Package pipeline holds the envelope payload types that travel between
// the crawler, cleaner, storage and indexer workers over the broker
// queues of spec.md §4.1, §4.5-§4.9.
package pipeline

// TaskEnvelope is the input to a crawler worker, read from the task's
// queue "task:{task_id}:queue" (spec.md §4.5).
type TaskEnvelope struct {
	URL       string `json:"url"`
	SiteID    string `json:"site_id"`
	TaskID    string `json:"task_id"`
	Timestamp int64  `json:"timestamp"`
}

// CrawlerOutput is what the Crawler Worker pushes onto queue:crawler
// (spec.md §4.5 step 11).
type CrawlerOutput struct {
	URL              string            `json:"url"`
	Content          string            `json:"content"` // base64-encoded for binary mimetypes, raw text otherwise
	ContentIsBase64  bool              `json:"content_is_base64"`
	MimeType         string            `json:"mimetype"`
	Links            []string          `json:"links"`
	Title            string            `json:"title"`
	MetaTags         map[string]string `json:"meta_tags"`
	Headings         map[string][]string `json:"headings"`
	ImageAlts        []string          `json:"image_alts"`
	ContentHash      string            `json:"content_hash"`
	SiteID           string            `json:"site_id"`
	CrawlerID        string            `json:"crawler_id"`
	CrawlerType      string            `json:"crawler_type"`
	TaskID           string            `json:"task_id"`
	Timestamp        int64             `json:"timestamp"`
	Status           string            `json:"status,omitempty"` // "error" | "skipped" when the cleaner must ack-skip
	StatusCode       int               `json:"status_code,omitempty"`
}

// CleanerOutput is what the Cleaner Worker pushes onto queue:cleaner
// (spec.md §4.6).
type CleanerOutput struct {
	CrawlerOutput
	CleanContent    string `json:"clean_content"`
	MatchedStrategy string `json:"matched_strategy"`
}

// StorageOutput is what the Storage Worker pushes onto queue:storage
// (spec.md §4.7).
type StorageOutput struct {
	CleanerOutput
	DocumentID          string `json:"document_id"`
	IndexOperation      string `json:"index_operation"`
	PreviousContentHash string `json:"previous_content_hash,omitempty"` // set on index_operation=edit
}

// RefreshTask is read from queue:refresh by the Refresh Worker
// (spec.md §4.9).
type RefreshTask struct {
	SiteID          string   `json:"site_id"`
	CrawlTaskID     string   `json:"crawl_task_id"`
	Strategy        string   `json:"strategy"`
	URLPatterns     []string `json:"url_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxAgeDays      int      `json:"max_age_days"`
	PriorityPatterns []string `json:"priority_patterns"`
}
