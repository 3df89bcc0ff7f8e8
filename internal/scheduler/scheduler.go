// Package scheduler implements the Scheduler Loop (C11): polls enabled
// CrawlPolicy/RefreshPolicy rows on a configurable interval and applies
// spec.md §4.11's firing rules, including the three ScheduleTask
// variants evaluated with a real cron parser.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/manager"
	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/sitemodel"
)

const refreshQueue = "refresh"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler is the Scheduler Loop.
type Scheduler struct {
	Store        *storage.Store
	Manager      *manager.Manager
	Broker       *broker.Client
	PollInterval time.Duration
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	policies, err := s.Store.ListEnabledCrawlPolicies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list crawl policies")
	} else {
		for _, p := range policies {
			s.evaluateCrawlPolicy(ctx, p, now)
		}
	}

	refreshPolicies, err := s.Store.ListEnabledRefreshPolicies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list refresh policies")
		return
	}
	for _, rp := range refreshPolicies {
		s.evaluateRefreshPolicy(ctx, rp, now)
	}
}

func (s *Scheduler) evaluateCrawlPolicy(ctx context.Context, p sitemodel.CrawlPolicy, now time.Time) {
	if p.LastExecuted == nil {
		s.fireCrawlPolicy(ctx, p, now)
		return
	}

	tasks, err := s.Store.ListScheduleTasksForPolicy(ctx, p.ID)
	if err != nil {
		log.Error().Err(err).Str("crawl_policy_id", p.ID).Msg("scheduler: failed to list schedule tasks")
		return
	}

	fired := false
	for _, t := range tasks {
		if s.scheduleTaskFires(t, p, now) {
			fired = true
			s.recordScheduleTaskRun(ctx, t, now)
		}
	}
	if fired {
		s.fireCrawlPolicy(ctx, p, now)
	}
}

func (s *Scheduler) scheduleTaskFires(t sitemodel.ScheduleTask, p sitemodel.CrawlPolicy, now time.Time) bool {
	switch t.Variant {
	case sitemodel.ScheduleOnce:
		return t.OneTimeDate != nil && !t.OneTimeDate.After(now) && t.LastRun == nil

	case sitemodel.ScheduleInterval:
		base := latest(t.LastRun, p.LastExecuted)
		if base == nil {
			return true
		}
		return now.Sub(*base) >= time.Duration(t.IntervalSeconds)*time.Second

	case sitemodel.ScheduleCron:
		return t.NextRun != nil && !t.NextRun.After(now)

	default:
		return false
	}
}

func (s *Scheduler) recordScheduleTaskRun(ctx context.Context, t sitemodel.ScheduleTask, now time.Time) {
	var next *time.Time
	switch t.Variant {
	case sitemodel.ScheduleInterval:
		n := now.Add(time.Duration(t.IntervalSeconds) * time.Second)
		next = &n
	case sitemodel.ScheduleCron:
		if schedule, err := cronParser.Parse(t.CronExpression); err == nil {
			n := schedule.Next(now)
			next = &n
		} else {
			log.Warn().Err(err).Str("schedule_task_id", t.ID).Str("cron", t.CronExpression).Msg("scheduler: invalid cron expression")
		}
	}

	if err := s.Store.UpdateScheduleTaskRun(ctx, t.ID, now, next); err != nil {
		log.Error().Err(err).Str("schedule_task_id", t.ID).Msg("scheduler: failed to record schedule task run")
	}
}

func (s *Scheduler) fireCrawlPolicy(ctx context.Context, p sitemodel.CrawlPolicy, now time.Time) {
	for _, startURL := range p.StartURLs {
		spec := manager.CrawlTaskSpec{
			SiteID:          p.SiteID,
			StartURLs:       []string{startURL},
			IncludePatterns: p.IncludePattern,
			MaxDepth:        p.MaxDepth,
			MaxURLs:         p.MaxURLs,
			CrawlDelay:      p.CrawlDelay,
			CrawlerType:     p.CrawlerType,
			UseSitemap:      p.Advanced["use_sitemap"] == "true",
		}
		if _, err := s.Manager.CreateCrawlTask(ctx, spec); err != nil {
			log.Error().Err(err).Str("crawl_policy_id", p.ID).Str("start_url", startURL).Msg("scheduler: failed to create crawl task")
		}
	}

	if err := s.Store.UpdateCrawlPolicyLastExecuted(ctx, p.ID, now); err != nil {
		log.Error().Err(err).Str("crawl_policy_id", p.ID).Msg("scheduler: failed to update last_executed")
	}
}

func (s *Scheduler) evaluateRefreshPolicy(ctx context.Context, rp sitemodel.RefreshPolicy, now time.Time) {
	if rp.LastRefresh != nil && rp.NextRefresh != nil && rp.NextRefresh.After(now) {
		return
	}

	// A refresh re-enqueues re-crawled URLs into a fresh dedicated task
	// queue; start with no seed URLs since the Refresh Worker (C9)
	// populates it from stored Documents.
	taskID, err := s.Manager.CreateCrawlTask(ctx, manager.CrawlTaskSpec{
		SiteID:          rp.SiteID,
		IncludePatterns: rp.IncludePattern,
	})
	if err != nil {
		log.Error().Err(err).Str("site_id", rp.SiteID).Msg("scheduler: failed to create refresh crawl task")
		return
	}

	task := pipeline.RefreshTask{
		SiteID:           rp.SiteID,
		CrawlTaskID:      taskID,
		Strategy:         string(rp.Strategy),
		URLPatterns:      rp.IncludePattern,
		ExcludePatterns:  rp.ExcludePattern,
		MaxAgeDays:       rp.MaxAgeDays,
		PriorityPatterns: rp.PriorityPattern,
	}
	if _, err := s.Broker.Enqueue(ctx, refreshQueue, task); err != nil {
		log.Error().Err(err).Str("site_id", rp.SiteID).Msg("scheduler: failed to enqueue refresh task")
		return
	}

	next := now.Add(time.Duration(rp.RefreshIntervalDays) * 24 * time.Hour)
	if err := s.Store.UpdateRefreshPolicyTimestamps(ctx, rp.ID, now, next); err != nil {
		log.Error().Err(err).Str("refresh_policy_id", rp.ID).Msg("scheduler: failed to update refresh policy timestamps")
	}
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
