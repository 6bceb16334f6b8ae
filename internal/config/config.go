// Package config provides configuration management for the indexing
// engine. It supports loading configuration from environment variables,
// files (YAML/JSON), and defaults, with a clear precedence order:
// env > file > defaults.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/indexforge/indexforge/internal/security/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config represents the complete indexing engine configuration.
type Config struct {
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	VectorStore   VectorStoreConfig   `json:"vector_store" yaml:"vector_store"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	Crawler       CrawlerConfig       `json:"crawler" yaml:"crawler"`
	Monitor       MonitorConfig       `json:"monitor" yaml:"monitor"`
	Watch         WatchConfig         `json:"watch" yaml:"watch"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	RateLimit     ratelimit.Config    `json:"rate_limit" yaml:"rate_limit"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DatabaseConfig holds the PostgreSQL connection configuration backing
// scope, metadata, queue and schema-migration state.
type DatabaseConfig struct {
	URL     string `json:"url" yaml:"url"`
	PoolMax int    `json:"pool_max" yaml:"pool_max"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	URL                string `json:"url" yaml:"url"`
	Provider           string `json:"provider" yaml:"provider"` // "postgres" | "qdrant"
	Dimension          int    `json:"dimension" yaml:"dimension"`
	EnableHybridSearch bool   `json:"enable_hybrid_search" yaml:"enable_hybrid_search"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider   string                 `json:"provider" yaml:"provider"`
	Model      string                 `json:"model" yaml:"model"`
	Dimensions int                    `json:"dimensions" yaml:"dimensions"`
	Config     map[string]interface{} `json:"config" yaml:"config"`
}

// CrawlerConfig targets the external web-crawl collaborator.
type CrawlerConfig struct {
	URL              string `json:"url" yaml:"url"`
	RequestBodyLimit int64  `json:"request_body_limit" yaml:"request_body_limit"`
}

// MonitorConfig governs the safety-net polling cadence of the
// LISTEN/NOTIFY-driven monitors.
type MonitorConfig struct {
	PostgresPollingInterval    time.Duration `json:"postgres_polling_interval" yaml:"postgres_polling_interval"`
	CrawlPollingInterval       time.Duration `json:"crawl_polling_interval" yaml:"crawl_polling_interval"`
	VectorStorePollingInterval time.Duration `json:"vector_store_polling_interval" yaml:"vector_store_polling_interval"`
}

// WatchConfig governs file-watcher debounce and recovery behaviour.
type WatchConfig struct {
	DebounceMs       int           `json:"debounce_ms" yaml:"debounce_ms"`
	WriteStabilityMs int           `json:"write_stability_ms" yaml:"write_stability_ms"`
	HealthInterval   time.Duration `json:"health_interval" yaml:"health_interval"`
	AutoRecover      bool          `json:"auto_recover" yaml:"auto_recover"`
}

// QueueConfig governs the PostgreSQL-backed ingestion job queue.
type QueueConfig struct {
	DefaultMaxRetries int           `json:"default_max_retries" yaml:"default_max_retries"`
	RetryBackoffBase  time.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`
	RetentionDays     int           `json:"retention_days" yaml:"retention_days"`
}

// IngestConfig governs ingestion worker concurrency and scratch space.
type IngestConfig struct {
	WorkerConcurrency int    `json:"worker_concurrency" yaml:"worker_concurrency"`
	TempDir           string `json:"temp_dir" yaml:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
	Audit   AuditConfig   `json:"audit" yaml:"audit"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// SentryConfig holds Sentry error monitoring configuration.
type SentryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Release     string  `json:"release" yaml:"release"`
}

// AuditConfig selects where job-lifecycle audit events are written.
// Output is one of "stdout", "stderr", "file", or "syslog"; FilePath and
// SyslogAddr are only consulted for their matching Output value.
type AuditConfig struct {
	Output     string `json:"output" yaml:"output"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	SyslogAddr string `json:"syslog_addr" yaml:"syslog_addr"`
}

// Default values
const (
	DefaultDatabaseURL         = "postgres://localhost:5432/indexforge?sslmode=disable"
	DefaultPoolMax             = 20
	DefaultVectorStoreProvider = "postgres"
	DefaultVectorStoreURL      = ""
	DefaultVectorDimension     = 768
	DefaultEnableHybridSearch  = false
	DefaultEmbeddingProvider   = "mock"
	DefaultEmbeddingModel      = "mock-768"
	DefaultEmbeddingDimensions = 768
	DefaultCrawlerURL          = ""
	DefaultRequestBodyLimit    = 10 * 1024 * 1024 // 10 MiB
	DefaultPostgresPolling     = 30 * time.Second
	DefaultCrawlPolling        = time.Second
	DefaultVectorStorePolling  = 5 * time.Second
	DefaultDebounceMs          = 2000
	DefaultWriteStabilityMs    = 500
	DefaultWatcherHealth       = 30 * time.Second
	DefaultAutoRecover         = true
	DefaultMaxRetries          = 3
	DefaultRetryBackoffBase    = time.Second
	DefaultQueueRetentionDays  = 30
	DefaultTempDir             = ""
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsEnabled      = false
	DefaultMetricsPort         = 9091
	DefaultMetricsPath         = "/metrics"
	DefaultTracingEnabled      = false
	DefaultTracingEndpoint     = "http://localhost:4318"
	DefaultSampleRate          = 0.1
	DefaultSentryEnabled       = false
	DefaultSentryDSN           = ""
	DefaultSentryEnv           = "development"
	DefaultSentrySampleRate    = 1.0
	DefaultSentryRelease       = "0.1.0"
	DefaultAuditOutput         = "stdout"
)

// Valid values for validation
var (
	ValidLogLevels        = []string{"debug", "info", "warn", "error"}
	ValidLogFormats       = []string{"json", "text"}
	ValidVectorStoreKinds = []string{"postgres", "qdrant"}
)

// Load loads configuration from environment variables and an optional
// config file. Precedence: env vars > config file > defaults.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	if configFile := os.Getenv("INDEXFORGE_CONFIG_FILE"); configFile != "" {
		fileCfg, err := loadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with all default values.
func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:     DefaultDatabaseURL,
			PoolMax: DefaultPoolMax,
		},
		VectorStore: VectorStoreConfig{
			URL:                DefaultVectorStoreURL,
			Provider:           DefaultVectorStoreProvider,
			Dimension:          DefaultVectorDimension,
			EnableHybridSearch: DefaultEnableHybridSearch,
		},
		Embedding: EmbeddingConfig{
			Provider:   DefaultEmbeddingProvider,
			Model:      DefaultEmbeddingModel,
			Dimensions: DefaultEmbeddingDimensions,
			Config:     make(map[string]interface{}),
		},
		Crawler: CrawlerConfig{
			URL:              DefaultCrawlerURL,
			RequestBodyLimit: DefaultRequestBodyLimit,
		},
		Monitor: MonitorConfig{
			PostgresPollingInterval:    DefaultPostgresPolling,
			CrawlPollingInterval:       DefaultCrawlPolling,
			VectorStorePollingInterval: DefaultVectorStorePolling,
		},
		Watch: WatchConfig{
			DebounceMs:       DefaultDebounceMs,
			WriteStabilityMs: DefaultWriteStabilityMs,
			HealthInterval:   DefaultWatcherHealth,
			AutoRecover:      DefaultAutoRecover,
		},
		Queue: QueueConfig{
			DefaultMaxRetries: DefaultMaxRetries,
			RetryBackoffBase:  DefaultRetryBackoffBase,
			RetentionDays:     DefaultQueueRetentionDays,
		},
		Ingest: IngestConfig{
			WorkerConcurrency: runtime.NumCPU(),
			TempDir:           DefaultTempDir,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
				Port:    DefaultMetricsPort,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Enabled:    DefaultTracingEnabled,
				Endpoint:   DefaultTracingEndpoint,
				SampleRate: DefaultSampleRate,
			},
			Sentry: SentryConfig{
				Enabled:     DefaultSentryEnabled,
				DSN:         DefaultSentryDSN,
				Environment: DefaultSentryEnv,
				SampleRate:  DefaultSentrySampleRate,
				Release:     DefaultSentryRelease,
			},
			Audit: AuditConfig{
				Output: DefaultAuditOutput,
			},
		},
	}
}

// loadFile loads configuration from a YAML or JSON file.
func loadFile(path string) (*Config, error) {
	safePath := filepath.Clean(path)

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := &Config{}
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}

	return cfg, nil
}

// loadEnv loads configuration from environment variables. Only
// overrides non-zero values from the provided config.
func loadEnv(cfg *Config) *Config {
	if url := os.Getenv("INDEXFORGE_DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if poolMax := os.Getenv("INDEXFORGE_DATABASE_POOL_MAX"); poolMax != "" {
		if n, err := strconv.Atoi(poolMax); err == nil {
			cfg.Database.PoolMax = n
		}
	}

	if url := os.Getenv("INDEXFORGE_VECTOR_STORE_URL"); url != "" {
		cfg.VectorStore.URL = url
	}
	if provider := os.Getenv("INDEXFORGE_VECTOR_STORE_PROVIDER"); provider != "" {
		cfg.VectorStore.Provider = provider
	}
	if dim := os.Getenv("INDEXFORGE_VECTOR_STORE_DIMENSION"); dim != "" {
		if n, err := strconv.Atoi(dim); err == nil {
			cfg.VectorStore.Dimension = n
		}
	}
	if hybrid := os.Getenv("INDEXFORGE_ENABLE_HYBRID_SEARCH"); hybrid != "" {
		if b, err := strconv.ParseBool(hybrid); err == nil {
			cfg.VectorStore.EnableHybridSearch = b
		}
	}

	if provider := os.Getenv("INDEXFORGE_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if model := os.Getenv("INDEXFORGE_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if dimensions := os.Getenv("INDEXFORGE_EMBEDDING_DIMENSIONS"); dimensions != "" {
		if dim, err := strconv.Atoi(dimensions); err == nil {
			cfg.Embedding.Dimensions = dim
		}
	}

	if url := os.Getenv("INDEXFORGE_CRAWLER_URL"); url != "" {
		cfg.Crawler.URL = url
	}
	if limit := os.Getenv("INDEXFORGE_CRAWLER_REQUEST_BODY_LIMIT"); limit != "" {
		if n, err := strconv.ParseInt(limit, 10, 64); err == nil {
			cfg.Crawler.RequestBodyLimit = n
		}
	}

	if v := os.Getenv("INDEXFORGE_POSTGRES_POLLING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.PostgresPollingInterval = d
		}
	}
	if v := os.Getenv("INDEXFORGE_CRAWL_POLLING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.CrawlPollingInterval = d
		}
	}
	if v := os.Getenv("INDEXFORGE_VECTOR_STORE_POLLING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.VectorStorePollingInterval = d
		}
	}

	if v := os.Getenv("INDEXFORGE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.DebounceMs = n
		}
	}
	if v := os.Getenv("INDEXFORGE_WRITE_STABILITY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.WriteStabilityMs = n
		}
	}
	if v := os.Getenv("INDEXFORGE_WATCHER_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.HealthInterval = d
		}
	}
	if v := os.Getenv("INDEXFORGE_AUTO_RECOVER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Watch.AutoRecover = b
		}
	}

	if v := os.Getenv("INDEXFORGE_DEFAULT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.DefaultMaxRetries = n
		}
	}
	if v := os.Getenv("INDEXFORGE_RETRY_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.RetryBackoffBase = d
		}
	}
	if v := os.Getenv("INDEXFORGE_QUEUE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.RetentionDays = n
		}
	}

	if v := os.Getenv("INDEXFORGE_INGEST_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("INDEXFORGE_INGEST_TEMP_DIR"); v != "" {
		cfg.Ingest.TempDir = v
	}

	if logLevel := os.Getenv("INDEXFORGE_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("INDEXFORGE_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if metricsEnabled := os.Getenv("INDEXFORGE_METRICS_ENABLED"); metricsEnabled != "" {
		if enabled, err := strconv.ParseBool(metricsEnabled); err == nil {
			cfg.Observability.Metrics.Enabled = enabled
		}
	}
	if metricsPort := os.Getenv("INDEXFORGE_METRICS_PORT"); metricsPort != "" {
		if port, err := strconv.Atoi(metricsPort); err == nil {
			cfg.Observability.Metrics.Port = port
		}
	}
	if metricsPath := os.Getenv("INDEXFORGE_METRICS_PATH"); metricsPath != "" {
		cfg.Observability.Metrics.Path = metricsPath
	}

	if tracingEnabled := os.Getenv("INDEXFORGE_TRACING_ENABLED"); tracingEnabled != "" {
		if enabled, err := strconv.ParseBool(tracingEnabled); err == nil {
			cfg.Observability.Tracing.Enabled = enabled
		}
	}
	if tracingEndpoint := os.Getenv("INDEXFORGE_TRACING_ENDPOINT"); tracingEndpoint != "" {
		cfg.Observability.Tracing.Endpoint = tracingEndpoint
	}
	if sampleRate := os.Getenv("INDEXFORGE_TRACING_SAMPLE_RATE"); sampleRate != "" {
		if rate, err := strconv.ParseFloat(sampleRate, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = rate
		}
	}

	if sentryEnabled := os.Getenv("INDEXFORGE_SENTRY_ENABLED"); sentryEnabled != "" {
		if enabled, err := strconv.ParseBool(sentryEnabled); err == nil {
			cfg.Observability.Sentry.Enabled = enabled
		}
	}
	if sentryDSN := os.Getenv("INDEXFORGE_SENTRY_DSN"); sentryDSN != "" {
		cfg.Observability.Sentry.DSN = sentryDSN
	}
	if sentryEnv := os.Getenv("INDEXFORGE_SENTRY_ENVIRONMENT"); sentryEnv != "" {
		cfg.Observability.Sentry.Environment = sentryEnv
	}
	if sentrySampleRate := os.Getenv("INDEXFORGE_SENTRY_SAMPLE_RATE"); sentrySampleRate != "" {
		if rate, err := strconv.ParseFloat(sentrySampleRate, 64); err == nil {
			cfg.Observability.Sentry.SampleRate = rate
		}
	}
	if sentryRelease := os.Getenv("INDEXFORGE_SENTRY_RELEASE"); sentryRelease != "" {
		cfg.Observability.Sentry.Release = sentryRelease
	}

	if auditOutput := os.Getenv("INDEXFORGE_AUDIT_OUTPUT"); auditOutput != "" {
		cfg.Observability.Audit.Output = auditOutput
	}
	if auditFilePath := os.Getenv("INDEXFORGE_AUDIT_FILE_PATH"); auditFilePath != "" {
		cfg.Observability.Audit.FilePath = auditFilePath
	}
	if auditSyslogAddr := os.Getenv("INDEXFORGE_AUDIT_SYSLOG_ADDR"); auditSyslogAddr != "" {
		cfg.Observability.Audit.SyslogAddr = auditSyslogAddr
	}

	if v := os.Getenv("INDEXFORGE_RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit.Enabled = b
		}
	}
	if v := os.Getenv("INDEXFORGE_RATE_LIMIT_ALGORITHM"); v != "" {
		cfg.RateLimit.Algorithm = ratelimit.Algorithm(v)
	}
	if v := os.Getenv("INDEXFORGE_RATE_LIMIT_REDIS_ADDR"); v != "" {
		cfg.RateLimit.Redis.Enabled = true
		cfg.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv("INDEXFORGE_RATE_LIMIT_REDIS_PASSWORD"); v != "" {
		cfg.RateLimit.Redis.Password = v
	}

	return cfg
}

// merge merges two configs, preferring values from 'override' when non-zero.
func merge(base, override *Config) *Config {
	result := *base

	if override.Database.URL != "" {
		result.Database.URL = override.Database.URL
	}
	if override.Database.PoolMax != 0 {
		result.Database.PoolMax = override.Database.PoolMax
	}

	if override.VectorStore.URL != "" {
		result.VectorStore.URL = override.VectorStore.URL
	}
	if override.VectorStore.Provider != "" {
		result.VectorStore.Provider = override.VectorStore.Provider
	}
	if override.VectorStore.Dimension != 0 {
		result.VectorStore.Dimension = override.VectorStore.Dimension
	}
	if override.VectorStore.EnableHybridSearch != DefaultEnableHybridSearch {
		result.VectorStore.EnableHybridSearch = override.VectorStore.EnableHybridSearch
	}

	if override.Embedding.Provider != "" {
		result.Embedding.Provider = override.Embedding.Provider
	}
	if override.Embedding.Model != "" {
		result.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.Dimensions != 0 {
		result.Embedding.Dimensions = override.Embedding.Dimensions
	}
	if override.Embedding.Config != nil {
		result.Embedding.Config = override.Embedding.Config
	}

	if override.Crawler.URL != "" {
		result.Crawler.URL = override.Crawler.URL
	}
	if override.Crawler.RequestBodyLimit != 0 {
		result.Crawler.RequestBodyLimit = override.Crawler.RequestBodyLimit
	}

	if override.Monitor.PostgresPollingInterval != 0 {
		result.Monitor.PostgresPollingInterval = override.Monitor.PostgresPollingInterval
	}
	if override.Monitor.CrawlPollingInterval != 0 {
		result.Monitor.CrawlPollingInterval = override.Monitor.CrawlPollingInterval
	}
	if override.Monitor.VectorStorePollingInterval != 0 {
		result.Monitor.VectorStorePollingInterval = override.Monitor.VectorStorePollingInterval
	}

	if override.Watch.DebounceMs != 0 {
		result.Watch.DebounceMs = override.Watch.DebounceMs
	}
	if override.Watch.WriteStabilityMs != 0 {
		result.Watch.WriteStabilityMs = override.Watch.WriteStabilityMs
	}
	if override.Watch.HealthInterval != 0 {
		result.Watch.HealthInterval = override.Watch.HealthInterval
	}
	if override.Watch.AutoRecover != DefaultAutoRecover {
		result.Watch.AutoRecover = override.Watch.AutoRecover
	}

	if override.Queue.DefaultMaxRetries != 0 {
		result.Queue.DefaultMaxRetries = override.Queue.DefaultMaxRetries
	}
	if override.Queue.RetryBackoffBase != 0 {
		result.Queue.RetryBackoffBase = override.Queue.RetryBackoffBase
	}
	if override.Queue.RetentionDays != 0 {
		result.Queue.RetentionDays = override.Queue.RetentionDays
	}

	if override.Ingest.WorkerConcurrency != 0 {
		result.Ingest.WorkerConcurrency = override.Ingest.WorkerConcurrency
	}
	if override.Ingest.TempDir != "" {
		result.Ingest.TempDir = override.Ingest.TempDir
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}

	if override.Observability.Metrics.Enabled != DefaultMetricsEnabled {
		result.Observability.Metrics.Enabled = override.Observability.Metrics.Enabled
	}
	if override.Observability.Metrics.Port != 0 {
		result.Observability.Metrics.Port = override.Observability.Metrics.Port
	}
	if override.Observability.Metrics.Path != "" {
		result.Observability.Metrics.Path = override.Observability.Metrics.Path
	}

	if override.Observability.Tracing.Enabled != DefaultTracingEnabled {
		result.Observability.Tracing.Enabled = override.Observability.Tracing.Enabled
	}
	if override.Observability.Tracing.Endpoint != "" {
		result.Observability.Tracing.Endpoint = override.Observability.Tracing.Endpoint
	}
	if override.Observability.Tracing.SampleRate != 0 {
		result.Observability.Tracing.SampleRate = override.Observability.Tracing.SampleRate
	}

	if override.Observability.Sentry.Enabled != DefaultSentryEnabled {
		result.Observability.Sentry.Enabled = override.Observability.Sentry.Enabled
	}
	if override.Observability.Sentry.DSN != "" {
		result.Observability.Sentry.DSN = override.Observability.Sentry.DSN
	}
	if override.Observability.Sentry.Environment != "" {
		result.Observability.Sentry.Environment = override.Observability.Sentry.Environment
	}
	if override.Observability.Sentry.SampleRate != 0 {
		result.Observability.Sentry.SampleRate = override.Observability.Sentry.SampleRate
	}
	if override.Observability.Sentry.Release != "" {
		result.Observability.Sentry.Release = override.Observability.Sentry.Release
	}

	if override.Observability.Audit.Output != "" {
		result.Observability.Audit.Output = override.Observability.Audit.Output
	}
	if override.Observability.Audit.FilePath != "" {
		result.Observability.Audit.FilePath = override.Observability.Audit.FilePath
	}
	if override.Observability.Audit.SyslogAddr != "" {
		result.Observability.Audit.SyslogAddr = override.Observability.Audit.SyslogAddr
	}

	if override.RateLimit.Enabled != result.RateLimit.Enabled {
		result.RateLimit.Enabled = override.RateLimit.Enabled
	}
	if override.RateLimit.Algorithm != "" {
		result.RateLimit.Algorithm = override.RateLimit.Algorithm
	}
	if override.RateLimit.Redis.Enabled {
		result.RateLimit.Redis = override.RateLimit.Redis
	}
	if override.RateLimit.Default.Requests != 0 {
		result.RateLimit.Default = override.RateLimit.Default
	}
	if override.RateLimit.GitHub.Requests != 0 {
		result.RateLimit.GitHub = override.RateLimit.GitHub
	}
	if override.RateLimit.Crawler.Requests != 0 {
		result.RateLimit.Crawler = override.RateLimit.Crawler
	}
	if override.RateLimit.BurstMultiplier != 0 {
		result.RateLimit.BurstMultiplier = override.RateLimit.BurstMultiplier
	}
	if override.RateLimit.CleanupInterval != 0 {
		result.RateLimit.CleanupInterval = override.RateLimit.CleanupInterval
	}

	return &result
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("database pool max must be positive: %d", c.Database.PoolMax)
	}

	if !contains(ValidVectorStoreKinds, c.VectorStore.Provider) {
		return fmt.Errorf("invalid vector store provider: %s (valid: %v)", c.VectorStore.Provider, ValidVectorStoreKinds)
	}
	if c.VectorStore.Dimension < 1 {
		return fmt.Errorf("vector store dimension must be positive: %d", c.VectorStore.Dimension)
	}

	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch debounce_ms cannot be negative: %d", c.Watch.DebounceMs)
	}
	if c.Watch.WriteStabilityMs < 0 {
		return fmt.Errorf("watch write_stability_ms cannot be negative: %d", c.Watch.WriteStabilityMs)
	}

	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("queue default_max_retries cannot be negative: %d", c.Queue.DefaultMaxRetries)
	}

	if c.Ingest.WorkerConcurrency < 1 {
		return fmt.Errorf("ingest worker_concurrency must be positive: %d", c.Ingest.WorkerConcurrency)
	}

	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}

	if c.Observability.Metrics.Enabled {
		if c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Observability.Metrics.Port)
		}
		if c.Observability.Metrics.Path == "" {
			return fmt.Errorf("metrics path cannot be empty when metrics enabled")
		}
	}

	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing enabled")
		}
		if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1: %f", c.Observability.Tracing.SampleRate)
		}
	}

	if c.Observability.Sentry.Enabled {
		if c.Observability.Sentry.DSN == "" {
			return fmt.Errorf("sentry DSN cannot be empty when sentry enabled")
		}
		if c.Observability.Sentry.SampleRate < 0 || c.Observability.Sentry.SampleRate > 1 {
			return fmt.Errorf("sentry sample rate must be between 0 and 1: %f", c.Observability.Sentry.SampleRate)
		}
	}

	switch c.Observability.Audit.Output {
	case "stdout", "stderr":
	case "file":
		if c.Observability.Audit.FilePath == "" {
			return fmt.Errorf("audit file_path cannot be empty when audit output is file")
		}
	case "syslog":
		if c.Observability.Audit.SyslogAddr == "" {
			return fmt.Errorf("audit syslog_addr cannot be empty when audit output is syslog")
		}
	default:
		return fmt.Errorf("invalid audit output: %s", c.Observability.Audit.Output)
	}

	return nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a default configuration for testing and documentation.
func Default() *Config {
	return defaults()
}
