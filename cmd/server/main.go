// Package main provides the entry point for the SiteSearch pipeline
// server: it wires the broker, database, vector store and worker
// fabric together and exposes a thin Fiber admin surface.
package main

import (
	"context"
	"log"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"

	"github.com/sitesearch/core/internal/config"
	"github.com/sitesearch/core/internal/crawler"
	"github.com/sitesearch/core/internal/manager"
	"github.com/sitesearch/core/internal/refresh"
	"github.com/sitesearch/core/internal/scheduler"
	"github.com/sitesearch/core/internal/storage"
	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/clean"
	"github.com/sitesearch/core/pkg/indexer"
	"github.com/sitesearch/core/pkg/ratelimit"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := newRedisClient(cfg.BrokerURL)
	if err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	brokerClient := broker.New(rdb)

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()
	store := storage.New(pool)

	qdrantClient, err := newQdrantClient(cfg.VectorStoreURL, cfg.VectorStoreKey)
	if err != nil {
		log.Fatalf("failed to connect to vector store: %v", err)
	}

	embedClient := indexer.NewEmbedClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	rerankClient := indexer.NewRerankClient(cfg.RerankerBaseURL, cfg.RerankerAPIKey, cfg.RerankerModel)
	ix := indexer.New(qdrantClient, brokerClient, embedClient, rerankClient, indexer.Config{DenseDim: uint64(cfg.DenseDim)})

	convertClient := clean.NewConvertClient(cfg.ConverterBaseURL, cfg.ConverterAPIKey)
	cleanEngine := clean.NewEngine(convertClient, clean.NewOCRFallback(""))

	limiter := ratelimit.NewSiteLimiter()
	fetchCfg := crawler.DefaultFetchConfig()
	fetchCfg.ConnectTimeout = cfg.HTTPConnectTimeout
	httpClient := crawler.NewHTTPClient(fetchCfg)

	mgr := manager.New(brokerClient, store, ix, cleanEngine, limiter, httpClient, fetchCfg, manager.Config{
		CleanerWorkers:         cfg.CleanerWorkers,
		StorageWorkers:         cfg.StorageWorkers,
		IndexerWorkers:         cfg.IndexerWorkers,
		CrawlerWorkersPerTask:  cfg.CrawlerWorkersPerTask,
		CompletionPollInterval: cfg.CompletionPollInterval,
	})
	if cfg.FirecrawlAPIKey != "" {
		mgr.Firecrawl = crawler.NewFirecrawlClient(crawler.FirecrawlConfig{
			BaseURL: cfg.FirecrawlBaseURL,
			APIKey:  cfg.FirecrawlAPIKey,
		})
	}
	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("failed to start manager: %v", err)
	}

	refreshWorker := &refresh.Worker{Broker: brokerClient, Store: store}
	go func() {
		if err := refreshWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("refresh worker exited: %v", err)
		}
	}()

	sched := &scheduler.Scheduler{Store: store, Manager: mgr, Broker: brokerClient, PollInterval: cfg.SchedulerPollInterval}
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("scheduler exited: %v", err)
		}
	}()

	app := newFiberApp(mgr)

	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Printf("manager shutdown error: %v", err)
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("starting sitesearch server on %s", cfg.ListenAddr)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func newRedisClient(brokerURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func newQdrantClient(vectorStoreURL, apiKey string) (*qdrant.Client, error) {
	host, port, err := splitHostPort(vectorStoreURL)
	if err != nil {
		return nil, err
	}
	return qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
}

func splitHostPort(hostport string) (string, int, error) {
	if u, err := url.Parse(hostport); err == nil && u.Host != "" {
		hostport = u.Host
	}
	host, portStr, err := splitHostPortString(hostport)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func splitHostPortString(hostport string) (string, string, error) {
	idx := -1
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return hostport, "6334", nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}
