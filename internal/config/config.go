// Package config reads the process environment once at startup, per
// spec.md §6's environment variable list, matching the teacher's own
// getEnv helper rather than introducing a config library it never
// reaches for.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every connection string, credential and tunable default
// spec.md §6 lists, resolved once in main and threaded explicitly into
// constructors (spec.md §9: no package-level singletons).
type Config struct {
	BrokerURL   string
	DatabaseDSN string

	VectorStoreURL string
	VectorStoreKey string
	DenseDim       int

	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string

	RerankerBaseURL string
	RerankerAPIKey  string
	RerankerModel   string

	ConverterBaseURL string
	ConverterAPIKey  string

	FirecrawlAPIKey  string
	FirecrawlBaseURL string

	CleanerWorkers         int
	StorageWorkers         int
	IndexerWorkers         int
	CrawlerWorkersPerTask  int

	SchedulerPollInterval  time.Duration
	CompletionPollInterval time.Duration

	HTTPConnectTimeout time.Duration

	ListenAddr string
}

// Load resolves a Config from the process environment, applying the
// defaults spec.md §4/§5 names.
func Load() Config {
	return Config{
		BrokerURL:   getenv("BROKER_URL", "redis://localhost:6379/0"),
		DatabaseDSN: getenv("DATABASE_DSN", "postgres://localhost:5432/sitesearch"),

		VectorStoreURL: getenv("VECTOR_STORE_URL", "localhost:6334"),
		VectorStoreKey: getenv("VECTOR_STORE_API_KEY", ""),
		DenseDim:       getenvInt("VECTOR_DENSE_DIM", 1536),

		EmbeddingBaseURL: getenv("EMBEDDING_BASE_URL", ""),
		EmbeddingAPIKey:  getenv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:   getenv("EMBEDDING_MODEL", ""),

		RerankerBaseURL: getenv("RERANKER_BASE_URL", ""),
		RerankerAPIKey:  getenv("RERANKER_API_KEY", ""),
		RerankerModel:   getenv("RERANKER_MODEL", ""),

		ConverterBaseURL: getenv("CONVERTER_BASE_URL", ""),
		ConverterAPIKey:  getenv("CONVERTER_API_KEY", ""),

		FirecrawlAPIKey:  getenv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL: getenv("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),

		CleanerWorkers:        getenvInt("CLEANER_WORKERS", 4),
		StorageWorkers:        getenvInt("STORAGE_WORKERS", 4),
		IndexerWorkers:        getenvInt("INDEXER_WORKERS", 4),
		CrawlerWorkersPerTask: getenvInt("CRAWLER_WORKERS_PER_TASK", 2),

		SchedulerPollInterval:  getenvSeconds("SCHEDULER_POLL_INTERVAL_SECONDS", 60),
		CompletionPollInterval: getenvSeconds("COMPLETION_POLL_INTERVAL_SECONDS", 10),

		HTTPConnectTimeout: getenvSeconds("HTTP_CONNECT_TIMEOUT_SECONDS", 30),

		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
	}
}

func getenv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getenvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getenvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defaultSeconds)) * time.Second
}
