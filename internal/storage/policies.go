package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitesearch/core/pkg/sitemodel"
)

// ListEnabledCrawlPolicies returns every enabled CrawlPolicy, for the
// Scheduler Loop (C11).
func (s *Store) ListEnabledCrawlPolicies(ctx context.Context) ([]sitemodel.CrawlPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, site_id, name, start_urls, include_pattern, exclude_pattern, max_depth, max_urls,
			crawl_delay_ms, crawler_type, advanced, enabled, created_at, updated_at, last_executed
		FROM crawl_policies WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("storage: list crawl policies: %w", err)
	}
	defer rows.Close()

	var policies []sitemodel.CrawlPolicy
	for rows.Next() {
		var p sitemodel.CrawlPolicy
		var startURLs, include, exclude, advanced []byte
		var delayMS int
		if err := rows.Scan(&p.ID, &p.SiteID, &p.Name, &startURLs, &include, &exclude, &p.MaxDepth, &p.MaxURLs,
			&delayMS, &p.CrawlerType, &advanced, &p.Enabled, &p.CreatedAt, &p.UpdatedAt, &p.LastExecuted); err != nil {
			return nil, fmt.Errorf("storage: scan crawl policy: %w", err)
		}
		_ = json.Unmarshal(startURLs, &p.StartURLs)
		_ = json.Unmarshal(include, &p.IncludePattern)
		_ = json.Unmarshal(exclude, &p.ExcludePattern)
		_ = json.Unmarshal(advanced, &p.Advanced)
		p.CrawlDelay = time.Duration(delayMS) * time.Millisecond
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// ListScheduleTasksForPolicy returns every enabled ScheduleTask bound
// to crawlPolicyID, for the Scheduler Loop (C11).
func (s *Store) ListScheduleTasksForPolicy(ctx context.Context, crawlPolicyID string) ([]sitemodel.ScheduleTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, crawl_policy_id, variant, one_time_date, interval_seconds, cron_expression,
			start_date, end_date, last_run, next_run, run_count, max_runs, enabled
		FROM schedule_tasks WHERE crawl_policy_id = $1 AND enabled = true`, crawlPolicyID)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedule tasks: %w", err)
	}
	defer rows.Close()

	var tasks []sitemodel.ScheduleTask
	for rows.Next() {
		var t sitemodel.ScheduleTask
		if err := rows.Scan(&t.ID, &t.CrawlPolicyID, &t.Variant, &t.OneTimeDate, &t.IntervalSeconds, &t.CronExpression,
			&t.StartDate, &t.EndDate, &t.LastRun, &t.NextRun, &t.RunCount, &t.MaxRuns, &t.Enabled); err != nil {
			return nil, fmt.Errorf("storage: scan schedule task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateCrawlPolicyLastExecuted sets a CrawlPolicy's last_executed
// timestamp once the Scheduler fires it (spec.md §4.11).
func (s *Store) UpdateCrawlPolicyLastExecuted(ctx context.Context, policyID string, when time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE crawl_policies SET last_executed = $2, updated_at = now() WHERE id = $1`, policyID, when)
	return err
}

// UpdateScheduleTaskRun records a ScheduleTask firing: last_run,
// next_run and an incremented run_count (spec.md §4.11).
func (s *Store) UpdateScheduleTaskRun(ctx context.Context, taskID string, lastRun time.Time, nextRun *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE schedule_tasks
		SET last_run = $2, next_run = $3, run_count = run_count + 1 WHERE id = $1`, taskID, lastRun, nextRun)
	return err
}

// ListEnabledRefreshPolicies returns every RefreshPolicy, for the
// Scheduler Loop (C11).
func (s *Store) ListEnabledRefreshPolicies(ctx context.Context) ([]sitemodel.RefreshPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, site_id, strategy, refresh_interval_days, include_pattern, exclude_pattern, priority_pattern,
			max_age_days, last_refresh, next_refresh
		FROM refresh_policies`)
	if err != nil {
		return nil, fmt.Errorf("storage: list refresh policies: %w", err)
	}
	defer rows.Close()

	var policies []sitemodel.RefreshPolicy
	for rows.Next() {
		var p sitemodel.RefreshPolicy
		var include, exclude, priority []byte
		if err := rows.Scan(&p.ID, &p.SiteID, &p.Strategy, &p.RefreshIntervalDays, &include, &exclude, &priority,
			&p.MaxAgeDays, &p.LastRefresh, &p.NextRefresh); err != nil {
			return nil, fmt.Errorf("storage: scan refresh policy: %w", err)
		}
		_ = json.Unmarshal(include, &p.IncludePattern)
		_ = json.Unmarshal(exclude, &p.ExcludePattern)
		_ = json.Unmarshal(priority, &p.PriorityPattern)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// GetRefreshPolicyForSite fetches the RefreshPolicy bound to siteID
// (one-to-one per spec.md §3), for the Refresh Worker (C9) to
// recompute next_refresh after dispatch.
func (s *Store) GetRefreshPolicyForSite(ctx context.Context, siteID string) (sitemodel.RefreshPolicy, error) {
	var p sitemodel.RefreshPolicy
	var include, exclude, priority []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, site_id, strategy, refresh_interval_days, include_pattern, exclude_pattern, priority_pattern,
			max_age_days, last_refresh, next_refresh
		FROM refresh_policies WHERE site_id = $1`, siteID).
		Scan(&p.ID, &p.SiteID, &p.Strategy, &p.RefreshIntervalDays, &include, &exclude, &priority,
			&p.MaxAgeDays, &p.LastRefresh, &p.NextRefresh)
	if err == pgx.ErrNoRows {
		return sitemodel.RefreshPolicy{}, fmt.Errorf("storage: no refresh policy for site %q", siteID)
	}
	if err != nil {
		return sitemodel.RefreshPolicy{}, fmt.Errorf("storage: get refresh policy for site %q: %w", siteID, err)
	}
	_ = json.Unmarshal(include, &p.IncludePattern)
	_ = json.Unmarshal(exclude, &p.ExcludePattern)
	_ = json.Unmarshal(priority, &p.PriorityPattern)
	return p, nil
}

// UpdateRefreshPolicyTimestamps sets last_refresh/next_refresh after
// the Scheduler dispatches a refresh task (spec.md §4.11).
func (s *Store) UpdateRefreshPolicyTimestamps(ctx context.Context, policyID string, lastRefresh, nextRefresh time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_policies SET last_refresh = $2, next_refresh = $3 WHERE id = $1`,
		policyID, lastRefresh, nextRefresh)
	return err
}

// GetSite fetches a Site by id, used by the Manager to resolve a
// site's base URL.
func (s *Store) GetSite(ctx context.Context, id string) (sitemodel.Site, error) {
	var site sitemodel.Site
	err := s.pool.QueryRow(ctx, `SELECT id, name, base_url, enabled, doc_count, created_at, updated_at
		FROM sites WHERE id = $1`, id).
		Scan(&site.ID, &site.Name, &site.BaseURL, &site.Enabled, &site.DocCount, &site.CreatedAt, &site.UpdatedAt)
	if err == pgx.ErrNoRows {
		return sitemodel.Site{}, fmt.Errorf("storage: no site %q", id)
	}
	if err != nil {
		return sitemodel.Site{}, fmt.Errorf("storage: get site %q: %w", id, err)
	}
	return site, nil
}
