package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sitesearch/core/internal/crawler"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/ratelimit"
)

// newTestManager builds a Manager wired only to a fake broker and HTTP
// server; the shared Cleaner/Storage/Indexer pools get no-op spawn
// functions, so a nil Store/Indexer/CleanEngine is safe here even when
// a test scales one of those pools through AdjustWorkers.
func newTestManager(t *testing.T, server *httptest.Server) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	m := New(broker.New(rdb), nil, nil, nil, ratelimit.NewSiteLimiter(), server.Client(), crawler.DefaultFetchConfig(), Config{
		CompletionPollInterval: 50 * time.Millisecond,
		CrawlerWorkersPerTask:  1,
	})
	m.sharedCtx, m.sharedCancel = context.WithCancel(context.Background())
	m.cleanerPool = newPool(&m.sharedWG, func(context.Context) {})
	m.storagePool = newPool(&m.sharedWG, func(context.Context) {})
	m.indexerPool = newPool(&m.sharedWG, func(context.Context) {})
	t.Cleanup(m.sharedCancel)
	return m
}

func TestCreateCrawlTaskCompletesOnceQueueDrains(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Home</title></head><body>no links here</body></html>`))
	}))
	defer server.Close()

	m := newTestManager(t, server)
	ctx := context.Background()
	require.NoError(t, m.StartMonitoring(ctx))
	defer m.StopMonitoring()

	taskID, err := m.CreateCrawlTask(ctx, CrawlTaskSpec{
		SiteID:    "site-1",
		StartURLs: []string{server.URL + "/"},
		MaxURLs:   10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	snap, err := m.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, "site-1", snap.SiteID)

	require.Eventually(t, func() bool {
		snap, err := m.GetTaskStatus(ctx, taskID)
		return err == nil && snap.Status == StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStopTaskMarksStoppedAndDropsQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	m := newTestManager(t, server)
	ctx := context.Background()

	taskID, err := m.CreateCrawlTask(ctx, CrawlTaskSpec{SiteID: "site-2", StartURLs: []string{server.URL + "/"}, MaxURLs: 1})
	require.NoError(t, err)

	require.NoError(t, m.StopTask(ctx, taskID))

	snap, err := m.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, snap.Status)
}

func TestDiscoverSitemapSeedsFoldsSitemapURLsIntoSeeds(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(`<urlset><url><loc>` + server.URL + `/about</loc></url></urlset>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	m := newTestManager(t, server)
	seeds := m.discoverSitemapSeeds(context.Background(), CrawlTaskSpec{
		SiteID:    "site-1",
		StartURLs: []string{server.URL + "/"},
	})
	require.Contains(t, seeds, server.URL+"/about")
}

func TestAdjustWorkersRejectsCrawlerComponent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	m := newTestManager(t, server)
	require.Error(t, m.AdjustWorkers("crawler", 2))
	require.NoError(t, m.AdjustWorkers("cleaner", 2))
	require.Equal(t, 2, m.cleanerPool.size())
}
