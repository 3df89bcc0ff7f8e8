// Package sitemodel holds the relational data model shared by storage,
// the crawler, the indexer and the scheduler: Site, CrawlPolicy,
// RefreshPolicy, ScheduleTask, Document, SiteDocument and CrawlHistory.
package sitemodel

import (
	"fmt"
	"regexp"
	"time"
)

// siteIDPattern matches the identifier grammar required of a Site ID.
var siteIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateSiteID reports whether id matches the Site identifier grammar.
func ValidateSiteID(id string) error {
	if !siteIDPattern.MatchString(id) {
		return fmt.Errorf("sitemodel: invalid site id %q: must match [A-Za-z0-9_]+", id)
	}
	return nil
}

// Site is an administrator-owned crawl target.
type Site struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	BaseURL     string    `db:"base_url" json:"base_url"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	DocCount    int64     `db:"doc_count" json:"doc_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CrawlerType selects which worker implementation executes a CrawlPolicy.
type CrawlerType string

const (
	CrawlerHTTPX     CrawlerType = "httpx"
	CrawlerFirecrawl CrawlerType = "firecrawl"
)

// CrawlPolicy describes what to crawl under a Site and how.
type CrawlPolicy struct {
	ID             string
	SiteID         string
	Name           string
	StartURLs      []string
	IncludePattern []string
	ExcludePattern []string
	MaxDepth       int
	MaxURLs        int
	CrawlDelay     time.Duration
	CrawlerType    CrawlerType
	Advanced       map[string]string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastExecuted   *time.Time
}

// RefreshStrategy selects how a RefreshPolicy selects URLs to re-crawl.
type RefreshStrategy string

const (
	RefreshAll         RefreshStrategy = "all"
	RefreshIncremental RefreshStrategy = "incremental"
	RefreshSelective   RefreshStrategy = "selective"
)

// RefreshPolicy is bound one-to-one to a Site.
type RefreshPolicy struct {
	ID                string
	SiteID            string
	Strategy          RefreshStrategy
	RefreshIntervalDays int
	IncludePattern    []string
	ExcludePattern    []string
	PriorityPattern   []string
	MaxAgeDays        int
	LastRefresh       *time.Time
	NextRefresh       *time.Time
}

// ScheduleVariant selects a ScheduleTask's temporal predicate.
type ScheduleVariant string

const (
	ScheduleOnce     ScheduleVariant = "once"
	ScheduleInterval ScheduleVariant = "interval"
	ScheduleCron     ScheduleVariant = "cron"
)

// ScheduleTask is bound to a CrawlPolicy and fires it on a cadence.
type ScheduleTask struct {
	ID              string
	CrawlPolicyID   string
	Variant         ScheduleVariant
	OneTimeDate     *time.Time
	IntervalSeconds int
	CronExpression  string
	StartDate       *time.Time
	EndDate         *time.Time
	LastRun         *time.Time
	NextRun         *time.Time
	RunCount        int
	MaxRuns         int
	Enabled         bool
}

// IndexOperation is the classification Storage assigns a document, which
// in turn drives what the Indexer Worker does with it.
type IndexOperation string

const (
	OpNew     IndexOperation = "new"
	OpNewSite IndexOperation = "new_site"
	OpEdit    IndexOperation = "edit"
	OpSkip    IndexOperation = "skip"
	OpDelete  IndexOperation = "delete"
)

// Document is identified by URL. Content hash is a pure function of raw
// content (invariant 1 in spec.md §3).
type Document struct {
	ID             string
	URL            string
	Title          string
	RawContent     []byte
	CleanedContent string
	MimeType       string
	ContentHash    string
	StatusCode     int
	Headers        map[string]string
	OutboundLinks  []string
	Timestamp      int64
	Metadata       map[string]string
	CrawlerID      string
	Version        int
	IndexOperation IndexOperation
	IsIndexed      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MaxTitleLength is the fixed truncation point for document titles
// (spec.md §9 Redesign Flag #5 fixes the teacher's inconsistent 245/250).
const MaxTitleLength = 250

// TruncateTitle clips s to MaxTitleLength runes, appending an ellipsis on
// overflow.
func TruncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxTitleLength {
		return s
	}
	return string(runes[:MaxTitleLength-1]) + "…"
}

// SiteDocument is the many-to-many join between Site and Document.
type SiteDocument struct {
	SiteID     string
	DocumentID string
	CreatedAt  time.Time
}

// ChangeType classifies a CrawlHistory row.
type ChangeType string

const (
	ChangeNew    ChangeType = "new"
	ChangeEdit   ChangeType = "edit"
	ChangeDelete ChangeType = "delete"
)

// CrawlHistory is an immutable append-only record of a version transition.
type CrawlHistory struct {
	ID               string
	DocumentID       string
	URL              string
	ContentHash      string
	Version          int
	ChangeType       ChangeType
	Timestamp        time.Time
	MetadataSnapshot map[string]string
}
