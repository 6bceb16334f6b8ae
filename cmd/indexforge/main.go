// Command indexforge is the single process hosting the job dispatcher,
// file watchers, monitors, the subscription bus, and the query planner,
// all as goroutines sharing one PostgreSQL pool and one vector store.
// There is no RPC/HTTP surface for the query planner itself (out of
// scope); the process stays up serving watchers, workers, and monitors
// until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getsentry/sentry-go"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/chunker"
	"github.com/indexforge/indexforge/internal/config"
	"github.com/indexforge/indexforge/internal/crawler"
	"github.com/indexforge/indexforge/internal/crawlsession"
	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/filemeta"
	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/ingest"
	"github.com/indexforge/indexforge/internal/monitor"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/observability/audit"
	"github.com/indexforge/indexforge/internal/query"
	"github.com/indexforge/indexforge/internal/queue"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/security/ratelimit"
	"github.com/indexforge/indexforge/internal/sync"
	"github.com/indexforge/indexforge/internal/vectorstore"
	"github.com/indexforge/indexforge/internal/vectorstore/pgstore"
	"github.com/indexforge/indexforge/internal/vectorstore/qdrant"
	"github.com/indexforge/indexforge/internal/watch"
)

const Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stdout,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("indexforge starting",
		"version", Version,
		"vector_store_provider", cfg.VectorStore.Provider,
		"embedding_provider", cfg.Embedding.Provider,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("indexforge")
		go startMetricsServer(cfg.Observability.Metrics, logger)
	} else {
		logger.Info("metrics collection disabled")
	}

	var tracerProvider *observability.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		tracerProvider, err = observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:    "indexforge",
			ServiceVersion: Version,
			Environment:    cfg.Observability.Sentry.Environment,
			OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			logger.Error("failed to initialize tracing provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer provider", "error", err)
			}
		}()
	} else {
		logger.Info("tracing disabled")
	}

	if cfg.Observability.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			Release:          cfg.Observability.Sentry.Release,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
			EnableTracing:    true,
		})
		if err != nil {
			logger.Error("failed to initialize sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	} else {
		logger.Info("sentry disabled")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to parse database url", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.PoolMax)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := dbschema.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	store, err := newVectorStore(cfg.VectorStore, pool)
	if err != nil {
		logger.Error("failed to initialize vector store", "provider", cfg.VectorStore.Provider, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := embedding.Register(&embedding.AnthropicProvider{}); err != nil {
		logger.Warn("anthropic embedding provider already registered", "error", err)
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		logger.Error("failed to create embedder", "provider", cfg.Embedding.Provider, "error", err)
		os.Exit(1)
	}
	logger.Info("embedder initialized",
		"provider", cfg.Embedding.Provider,
		"model", embedder.Model(),
		"dimensions", embedder.Dimensions(),
	)

	var sparse embedding.SparseEncoder
	if store.SupportsHybrid() {
		sparse = embedding.NewTermFrequencyEncoder()
	}

	scopeMgr := scope.New(pool)
	files := filemeta.New(pool)
	chunks := chunker.New(2000, 200)
	syncer := sync.NewSyncer(scopeMgr, files, store, embedder, chunks)
	sessions := crawlsession.New(pool)

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.NewRateLimiter(cfg.RateLimit)
		if err != nil {
			logger.Error("failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()
	}
	crawlerClient := crawler.NewClient(cfg.Crawler.URL, limiter)

	listener := dbschema.NewListener(cfg.Database.URL)
	defer listener.Close(context.Background())

	jobQueue := queue.NewWithListener(pool, listener)

	auditConfig := audit.DefaultConfig()
	auditConfig.ServiceVersion = Version
	auditConfig.Environment = cfg.Observability.Sentry.Environment
	switch cfg.Observability.Audit.Output {
	case "file":
		auditConfig.Outputs = []audit.OutputConfig{{Type: audit.OutputTypeFile, FilePath: cfg.Observability.Audit.FilePath}}
	case "syslog":
		auditConfig.Outputs = []audit.OutputConfig{{Type: audit.OutputTypeSyslog, SyslogAddr: cfg.Observability.Audit.SyslogAddr}}
	case "stderr":
		auditConfig.Outputs = []audit.OutputConfig{{Type: audit.OutputTypeStderr, Format: "json"}}
	}
	auditLogger, err := audit.NewLogger(auditConfig, logger)
	if err != nil {
		logger.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()
	jobQueue.SetAuditor(auditLogger)

	worker := ingest.New(jobQueue, syncer, sessions, crawlerClient, store, embedder, chunks, cfg.Ingest.TempDir, logger)
	for i := 0; i < cfg.Ingest.WorkerConcurrency; i++ {
		go worker.Run(ctx)
	}
	logger.Info("ingestion workers started", "count", cfg.Ingest.WorkerConcurrency)

	eventBus := bus.New(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, metrics)

	metadataMonitor := monitor.NewMetadataMonitor(pool, listener, eventBus, cfg.Monitor.PostgresPollingInterval, logger)
	go metadataMonitor.Run(ctx)

	crawlMonitor := monitor.NewCrawlMonitor(crawlerClient, sessions, eventBus, cfg.Monitor.CrawlPollingInterval, logger)
	if err := crawlMonitor.ResumeActive(ctx); err != nil {
		logger.Error("failed to resume active crawl sessions", "error", err)
	}
	go crawlMonitor.Run(ctx)

	vectorStoreMonitor := monitor.NewVectorStoreMonitor(store, eventBus, cfg.Monitor.VectorStorePollingInterval, logger)
	go vectorStoreMonitor.Run(ctx)

	watchRegistry := watch.NewRegistry(pool)
	if err := startPersistedWatchers(ctx, watchRegistry, syncer, eventBus, cfg, logger); err != nil {
		logger.Error("failed to start persisted watchers", "error", err)
	}

	// No RPC surface invokes the planner in this process; it is
	// constructed here so an embedding caller (test harness, future
	// transport) can reach it via the same wiring this function did.
	_ = query.NewPlanner(scopeMgr, store, embedder, sparse, nil, metrics)
	logger.Info("query planner ready", "hybrid_enabled", sparse != nil)

	logger.Info("indexforge running", "active_watchers", len(watchRegistry.List()))
	<-ctx.Done()

	logger.Info("indexforge shutting down")
}

// newVectorStore constructs the configured vectorstore.VectorStore
// backend. "postgres" is the default, pgvector/pg_trgm backed against
// the shared pool; "qdrant" dials a remote Qdrant deployment over gRPC.
func newVectorStore(cfg config.VectorStoreConfig, pool *pgxpool.Pool) (vectorstore.VectorStore, error) {
	switch cfg.Provider {
	case "qdrant":
		host, port, err := splitHostPort(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse qdrant url %q: %w", cfg.URL, err)
		}
		return qdrant.New(qdrant.Config{Host: host, Port: port})
	default:
		return pgstore.New(pool), nil
	}
}

// splitHostPort parses a "host:port" address, defaulting to Qdrant's
// standard gRPC port when none is given.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// newEmbedder resolves cfg.Provider from the embedding registry and
// instantiates it with cfg's model/dimensions folded into its
// provider-specific config map.
func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	provider, err := embedding.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	providerConfig := make(map[string]interface{}, len(cfg.Config)+2)
	for k, v := range cfg.Config {
		providerConfig[k] = v
	}
	providerConfig["model"] = cfg.Model
	providerConfig["dimensions"] = cfg.Dimensions

	return provider.Create(providerConfig)
}

// startPersistedWatchers resumes every watcher previously persisted to
// the database, wiring the shared event bus into each so that
// watch:sync/watch:error events flow for datasets that survive a
// process restart.
func startPersistedWatchers(ctx context.Context, registry *watch.Registry, syncer *sync.Syncer, eventBus *bus.Bus, cfg *config.Config, logger *observability.Logger) error {
	configs, err := registry.LoadConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load persisted watcher configs: %w", err)
	}

	for _, wcfg := range configs {
		wcfg := wcfg
		wcfg.Publisher = eventBus
		if wcfg.Debounce == 0 {
			wcfg.Debounce = time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
		}

		patterns, err := ignore.LoadDatasetPatterns(wcfg.Root)
		if err != nil {
			patterns = ignore.DefaultPatterns()
		}
		matcher := ignore.New(patterns)

		projectID, datasetID := wcfg.ProjectID, wcfg.DatasetID
		onSync := func(ctx context.Context) (watch.SyncStats, error) {
			var stats watch.SyncStats
			err := syncer.Sync(ctx, sync.Options{ProjectID: projectID, DatasetID: datasetID, Root: wcfg.Root, DetectRenames: true}, func(p sync.Progress) {
				stats.FilesChanged = p.FilesProcessed
				stats.ChunksIndexed = p.ChunksCreated
			})
			return stats, err
		}

		if err := registry.Start(ctx, wcfg, matcher, onSync); err != nil {
			logger.Error("failed to start watcher", "project_id", projectID, "dataset_id", datasetID, "error", err)
			continue
		}
	}

	logger.Info("persisted watchers started", "count", len(configs))
	return nil
}

// startMetricsServer runs the Prometheus metrics HTTP endpoint on a
// separate port from the (non-existent) application surface.
func startMetricsServer(cfg config.MetricsConfig, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","component":"metrics"}`)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting metrics server", "addr", addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
