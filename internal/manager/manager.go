// Package manager implements the Pipeline Manager (C10): it owns the
// lifecycle of every worker pool as goroutines, creates a dedicated
// input queue and crawler pool per crawl task, detects task completion,
// and exposes the admin operations spec.md §6 lists.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/internal/cleaner"
	"github.com/sitesearch/core/internal/crawler"
	"github.com/sitesearch/core/internal/indexworker"
	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/internal/storageworker"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/clean"
	"github.com/sitesearch/core/pkg/indexer"
	"github.com/sitesearch/core/pkg/pipeline"
	"github.com/sitesearch/core/pkg/ratelimit"
	"github.com/sitesearch/core/pkg/sitemodel"
)

// TaskStatus mirrors spec.md §4.10's per-task status enum.
type TaskStatus string

const (
	StatusStarting  TaskStatus = "starting"
	StatusRunning   TaskStatus = "running"
	StatusStopped   TaskStatus = "stopped"
	StatusCompleted TaskStatus = "completed"
)

// Config is the Manager's static tuning knobs, resolved once from
// internal/config at process start.
type Config struct {
	CleanerWorkers         int
	StorageWorkers         int
	IndexerWorkers         int
	CrawlerWorkersPerTask  int
	CompletionPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CleanerWorkers <= 0 {
		c.CleanerWorkers = 4
	}
	if c.StorageWorkers <= 0 {
		c.StorageWorkers = 4
	}
	if c.IndexerWorkers <= 0 {
		c.IndexerWorkers = 4
	}
	if c.CrawlerWorkersPerTask <= 0 {
		c.CrawlerWorkersPerTask = 2
	}
	if c.CompletionPollInterval <= 0 {
		c.CompletionPollInterval = 10 * time.Second
	}
	return c
}

// CrawlTaskSpec is the input to CreateCrawlTask.
type CrawlTaskSpec struct {
	SiteID          string
	StartURLs       []string
	IncludePatterns []string
	MaxDepth        int
	MaxURLs         int
	CrawlDelay      time.Duration
	CrawlerWorkers  int                   // 0 = Config.CrawlerWorkersPerTask
	CrawlerType     sitemodel.CrawlerType // zero value behaves as CrawlerHTTPX
	UseSitemap      bool                  // seed from robots.txt/sitemap.xml in addition to StartURLs (spec.md §4.5)
}

// TaskSnapshot is one row of GetAllTasksStatus/GetTaskStatus.
type TaskSnapshot struct {
	TaskID    string
	SiteID    string
	Status    TaskStatus
	StartTime time.Time
	EndTime   time.Time
	Metrics   broker.Metrics
}

type task struct {
	spec      CrawlTaskSpec
	taskID    string
	status    TaskStatus
	startTime time.Time
	endTime   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// pool is a dynamically resizable group of goroutines running the same
// worker loop, used for the shared Cleaner/Storage/Indexer pools
// (spec.md §4.10's adjust_workers for "shared components, not
// crawlers").
type pool struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	spawn   func(ctx context.Context)
	wg      *sync.WaitGroup
}

func newPool(wg *sync.WaitGroup, spawn func(ctx context.Context)) *pool {
	return &pool{spawn: spawn, wg: wg}
}

func (p *pool) adjust(parentCtx context.Context, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := len(p.cancels)
	if target > current {
		for i := 0; i < target-current; i++ {
			ctx, cancel := context.WithCancel(parentCtx)
			p.cancels = append(p.cancels, cancel)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.spawn(ctx)
			}()
		}
	} else if target < current {
		toStop := p.cancels[target:]
		p.cancels = p.cancels[:target]
		for _, c := range toStop {
			c()
		}
	}
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// Manager is the single owner of worker-pool lifecycle state, guarded
// by mu the way the teacher's HybridStorage guards its background
// sync ticker with a mutex.
type Manager struct {
	Broker      *broker.Client
	Store       *storage.Store
	Indexer     *indexer.Indexer
	CleanEngine *clean.Engine
	Limiter     *ratelimit.SiteLimiter
	HTTPClient  *http.Client
	FetchCfg    crawler.FetchConfig
	Firecrawl   *crawler.FirecrawlClient // optional; required only for CrawlerType == sitemodel.CrawlerFirecrawl tasks
	Config      Config

	mu    sync.RWMutex
	tasks map[string]*task

	sharedCtx    context.Context
	sharedCancel context.CancelFunc
	sharedWG     sync.WaitGroup

	cleanerPool *pool
	storagePool *pool
	indexerPool *pool

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup
}

// New builds a Manager; call Start to spawn the shared worker pools.
func New(brokerClient *broker.Client, store *storage.Store, ix *indexer.Indexer, cleanEngine *clean.Engine,
	limiter *ratelimit.SiteLimiter, httpClient *http.Client, fetchCfg crawler.FetchConfig, cfg Config) *Manager {
	return &Manager{
		Broker:      brokerClient,
		Store:       store,
		Indexer:     ix,
		CleanEngine: cleanEngine,
		Limiter:     limiter,
		HTTPClient:  httpClient,
		FetchCfg:    fetchCfg,
		Config:      cfg.withDefaults(),
		tasks:       make(map[string]*task),
	}
}

// Start spawns the fixed shared pools of Cleaner, Storage, Indexer
// workers (spec.md §4.10's "spawn a fixed pool... at startup") and
// begins completion-detection monitoring.
func (m *Manager) Start(ctx context.Context) error {
	m.sharedCtx, m.sharedCancel = context.WithCancel(ctx)

	m.cleanerPool = newPool(&m.sharedWG, func(workerCtx context.Context) {
		w := &cleaner.Worker{Broker: m.Broker, Engine: m.CleanEngine, Concurrency: 4}
		if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("manager: cleaner worker exited")
		}
	})
	m.storagePool = newPool(&m.sharedWG, func(workerCtx context.Context) {
		w := &storageworker.Worker{Broker: m.Broker, Store: m.Store, Concurrency: 4}
		if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("manager: storage worker exited")
		}
	})
	m.indexerPool = newPool(&m.sharedWG, func(workerCtx context.Context) {
		w := &indexworker.Worker{Broker: m.Broker, Indexer: m.Indexer, Store: m.Store, Concurrency: 4}
		if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("manager: indexer worker exited")
		}
	})

	m.cleanerPool.adjust(m.sharedCtx, m.Config.CleanerWorkers)
	m.storagePool.adjust(m.sharedCtx, m.Config.StorageWorkers)
	m.indexerPool.adjust(m.sharedCtx, m.Config.IndexerWorkers)

	return m.StartMonitoring(ctx)
}

// CreateCrawlTask creates the task's dedicated input queue, seeds it
// with the start URLs, and spawns N crawler workers wired to it
// (spec.md §4.10).
func (m *Manager) CreateCrawlTask(ctx context.Context, spec CrawlTaskSpec) (string, error) {
	taskID := uuid.NewString()
	queueName := broker.TaskQueueName(taskID)

	seedURLs := spec.StartURLs
	if spec.UseSitemap && len(spec.StartURLs) > 0 {
		seedURLs = append(seedURLs, m.discoverSitemapSeeds(ctx, spec)...)
	}

	for _, seedURL := range seedURLs {
		env := pipeline.TaskEnvelope{URL: seedURL, SiteID: spec.SiteID, TaskID: taskID, Timestamp: time.Now().Unix()}
		if _, err := m.Broker.EnqueueWithTaskID(ctx, queueName, taskID, env); err != nil {
			return "", fmt.Errorf("manager: seed start url %q: %w", seedURL, err)
		}
	}

	taskCtx, cancel := context.WithCancel(m.sharedCtx)
	t := &task{spec: spec, taskID: taskID, status: StatusStarting, startTime: time.Now(), cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[taskID] = t
	m.mu.Unlock()

	workers := spec.CrawlerWorkers
	if workers <= 0 {
		workers = m.Config.CrawlerWorkersPerTask
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			w := &crawler.Worker{
				Broker:     m.Broker,
				Store:      m.Store,
				Limiter:    m.Limiter,
				HTTPClient: m.HTTPClient,
				FetchCfg:   m.FetchCfg,
				Firecrawl:  m.Firecrawl,
				Task: crawler.TaskConfig{
					TaskID:          taskID,
					SiteID:          spec.SiteID,
					CrawlerID:       taskID,
					IncludePatterns: spec.IncludePatterns,
					MaxURLs:         spec.MaxURLs,
					CrawlDelay:      spec.CrawlDelay,
					CrawlerType:     spec.CrawlerType,
				},
				Concurrency: 4,
			}
			if err := w.Run(taskCtx); err != nil && taskCtx.Err() == nil {
				log.Error().Err(err).Str("task_id", taskID).Msg("manager: crawler worker exited")
			}
		}()
	}
	go func() {
		wg.Wait()
		close(t.done)
	}()

	m.mu.Lock()
	t.status = StatusRunning
	m.mu.Unlock()

	return taskID, nil
}

// discoverSitemapSeeds implements spec.md §4.5's optional sitemap
// discovery step as a one-time seed before the crawler pool spawns:
// robots.txt and the conventional sitemap locations are resolved
// against the task's first start URL and folded into the BFS frontier
// alongside it.
func (m *Manager) discoverSitemapSeeds(ctx context.Context, spec CrawlTaskSpec) []string {
	root, err := url.Parse(spec.StartURLs[0])
	if err != nil {
		log.Warn().Err(err).Str("start_url", spec.StartURLs[0]).Msg("manager: cannot parse start url for sitemap discovery")
		return nil
	}
	discovered, err := crawler.DiscoverSitemapURLs(ctx, m.HTTPClient, root)
	if err != nil {
		log.Warn().Err(err).Str("site_id", spec.SiteID).Msg("manager: sitemap discovery failed, falling back to start urls only")
		return nil
	}
	return discovered
}

// CreateCrawlUpdateTask re-crawls a known Site, sourcing start URLs
// from its first enabled CrawlPolicy when one exists, falling back to
// the Site's base URL otherwise.
func (m *Manager) CreateCrawlUpdateTask(ctx context.Context, siteID string) (string, error) {
	site, err := m.Store.GetSite(ctx, siteID)
	if err != nil {
		return "", err
	}

	spec := CrawlTaskSpec{SiteID: siteID, StartURLs: []string{site.BaseURL}}

	policies, err := m.Store.ListEnabledCrawlPolicies(ctx)
	if err == nil {
		for _, p := range policies {
			if p.SiteID == siteID {
				spec.StartURLs = p.StartURLs
				spec.IncludePatterns = p.IncludePattern
				spec.MaxDepth = p.MaxDepth
				spec.MaxURLs = p.MaxURLs
				spec.CrawlDelay = p.CrawlDelay
				spec.CrawlerType = p.CrawlerType
				spec.UseSitemap = p.Advanced["use_sitemap"] == "true"
				break
			}
		}
	}

	return m.CreateCrawlTask(ctx, spec)
}

// StopTask cancels the task's crawlers (the goroutine analogue of
// SIGTERM), waits up to 5s for them to drain, and marks it stopped
// regardless — goroutines cannot be force-killed the way spec.md
// §4.10's SIGKILL step implies for OS processes.
func (m *Manager) StopTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: unknown task %q", taskID)
	}

	t.cancel()
	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		log.Warn().Str("task_id", taskID).Msg("manager: crawlers did not drain within 5s of stop")
	}

	if err := m.Broker.DeleteQueue(ctx, broker.TaskQueueName(taskID)); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("manager: failed to drop task queue keys")
	}

	m.mu.Lock()
	t.status = StatusStopped
	t.endTime = time.Now()
	m.mu.Unlock()
	return nil
}

// GetTaskStatus returns one task's current snapshot.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (TaskSnapshot, error) {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return TaskSnapshot{}, fmt.Errorf("manager: unknown task %q", taskID)
	}
	return m.snapshot(ctx, t), nil
}

// GetAllTasksStatus returns every tracked task's snapshot.
func (m *Manager) GetAllTasksStatus(ctx context.Context) []TaskSnapshot {
	m.mu.RLock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	snapshots := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, m.snapshot(ctx, t))
	}
	return snapshots
}

func (m *Manager) snapshot(ctx context.Context, t *task) TaskSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, err := m.Broker.Metrics(ctx, broker.TaskQueueName(t.taskID))
	if err != nil {
		log.Warn().Err(err).Str("task_id", t.taskID).Msg("manager: failed to read task queue metrics")
	}
	return TaskSnapshot{
		TaskID:    t.taskID,
		SiteID:    t.spec.SiteID,
		Status:    t.status,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		Metrics:   metrics,
	}
}

// SystemStatus is the Go-shaped equivalent of spec.md §4.10's
// get_system_status: since workers are goroutines rather than OS
// processes, per-component PID/RSS/CPU% are replaced with goroutine
// counts; queue metrics and per-task snapshots are unchanged.
type SystemStatus struct {
	CleanerWorkers int
	StorageWorkers int
	IndexerWorkers int
	QueueMetrics   map[string]broker.Metrics
	Tasks          []TaskSnapshot
}

// GetSystemStatus reports shared-pool sizes, queue metrics for every
// pipeline stage, and every tracked task's snapshot.
func (m *Manager) GetSystemStatus(ctx context.Context) SystemStatus {
	queues := []string{"crawler", "cleaner", "storage", "refresh"}
	metrics := make(map[string]broker.Metrics, len(queues))
	for _, q := range queues {
		mtr, err := m.Broker.Metrics(ctx, q)
		if err != nil {
			log.Warn().Err(err).Str("queue", q).Msg("manager: failed to read queue metrics")
			continue
		}
		metrics[q] = mtr
	}

	return SystemStatus{
		CleanerWorkers: m.cleanerPool.size(),
		StorageWorkers: m.storagePool.size(),
		IndexerWorkers: m.indexerPool.size(),
		QueueMetrics:   metrics,
		Tasks:          m.GetAllTasksStatus(ctx),
	}
}

// AdjustWorkers grows or shrinks one of the shared pools; crawler
// pools are owned by their task and not adjustable here (spec.md
// §4.10: "not crawlers, which are owned by tasks").
func (m *Manager) AdjustWorkers(component string, target int) error {
	var p *pool
	switch component {
	case "cleaner":
		p = m.cleanerPool
	case "storage":
		p = m.storagePool
	case "indexer":
		p = m.indexerPool
	default:
		return fmt.Errorf("manager: unknown or non-adjustable component %q", component)
	}
	p.adjust(m.sharedCtx, target)
	return nil
}

// StartMonitoring begins the completion-detection loop if it isn't
// already running.
func (m *Manager) StartMonitoring(ctx context.Context) error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorCancel != nil {
		return nil
	}
	monitorCtx, cancel := context.WithCancel(m.sharedCtx)
	m.monitorCancel = cancel
	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		m.monitorLoop(monitorCtx)
	}()
	return nil
}

// StopMonitoring halts the completion-detection loop without touching
// running tasks.
func (m *Manager) StopMonitoring() error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorCancel == nil {
		return nil
	}
	m.monitorCancel()
	m.monitorWG.Wait()
	m.monitorCancel = nil
	return nil
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.Config.CompletionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkCompletions(ctx)
		}
	}
}

// checkCompletions implements spec.md §4.10's completion rule: a task
// is complete once its input queue has nothing pending or processing.
// Crawler workers for that task are then cancelled and its ephemeral
// broker keys dropped.
func (m *Manager) checkCompletions(ctx context.Context) {
	m.mu.RLock()
	candidates := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.status == StatusRunning {
			candidates = append(candidates, t)
		}
	}
	m.mu.RUnlock()

	for _, t := range candidates {
		metrics, err := m.Broker.Metrics(ctx, broker.TaskQueueName(t.taskID))
		if err != nil {
			log.Warn().Err(err).Str("task_id", t.taskID).Msg("manager: completion check failed to read metrics")
			continue
		}
		if metrics.Pending != 0 || metrics.Processing != 0 {
			continue
		}

		t.cancel()
		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
		}
		if err := m.Broker.DeleteQueue(ctx, broker.TaskQueueName(t.taskID)); err != nil {
			log.Warn().Err(err).Str("task_id", t.taskID).Msg("manager: failed to drop completed task queue keys")
		}

		m.mu.Lock()
		t.status = StatusCompleted
		t.endTime = time.Now()
		m.mu.Unlock()
		log.Info().Str("task_id", t.taskID).Msg("manager: task completed")
	}
}

// Shutdown stops monitoring, stops every running task, stops the
// shared pools, and cancels the Manager's root context (spec.md
// §4.10's graceful shutdown, adapted from OS-process SIGTERM/SIGKILL
// to goroutine cancellation + bounded join).
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.StopMonitoring(); err != nil {
		return err
	}

	m.mu.RLock()
	taskIDs := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.status == StatusRunning || t.status == StatusStarting {
			taskIDs = append(taskIDs, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range taskIDs {
		if err := m.StopTask(ctx, id); err != nil {
			log.Warn().Err(err).Str("task_id", id).Msg("manager: failed to stop task during shutdown")
		}
	}

	m.sharedCancel()
	done := make(chan struct{})
	go func() {
		m.sharedWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("manager: shared worker pools did not drain within 5s of shutdown")
	}
	return nil
}
