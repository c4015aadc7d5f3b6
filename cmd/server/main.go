package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/api"
	"github.com/shubhsaxena/recipe-finder/internal/cache"
	"github.com/shubhsaxena/recipe-finder/internal/clickhouse"
	"github.com/shubhsaxena/recipe-finder/internal/config"
	"github.com/shubhsaxena/recipe-finder/internal/elasticsearch"
	"github.com/shubhsaxena/recipe-finder/internal/glossary"
	"github.com/shubhsaxena/recipe-finder/internal/indexing"
	"github.com/shubhsaxena/recipe-finder/internal/kafka"
	"github.com/shubhsaxena/recipe-finder/internal/llm"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
	"github.com/shubhsaxena/recipe-finder/internal/orchestrator"
	"github.com/shubhsaxena/recipe-finder/internal/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting recipe search service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerShutdown, err := observability.InitTracer(ctx, cfg.Observability.ServiceName, cfg.Observability.TracingEndpoint)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("initializing postgres: %w", err)
	}
	defer pool.Close()

	pgRepo := postgres.NewRecipeRepository(pool, cfg.Postgres, cfg.Search, logger)

	store, err := glossaryStore(pool, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing glossary: %w", err)
	}

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("postgres", pgRepo)

	var repo orchestrator.RecipeRepository = pgRepo
	var indexer indexing.BulkIndexer
	if cfg.Elasticsearch.Enabled {
		esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, logger)
		if err != nil {
			return fmt.Errorf("initializing elasticsearch: %w", err)
		}
		if err := esClient.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("ensuring elasticsearch index: %w", err)
		}
		repo = esClient
		indexer = esClient
		healthHandler.Register("elasticsearch", api.ClusterCheck(esClient))
		logger.Info("elasticsearch recipe backend enabled", zap.String("index", esClient.Index()))
	}

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}
	healthHandler.RegisterOptional("llm", api.CheckFunc(func(ctx context.Context) error {
		if !client.HealthCheck(ctx) {
			return llm.ErrUnavailable
		}
		return nil
	}))

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis initialization failed, completions will not be cached", zap.Error(err))
		} else {
			defer redisCache.Close()
			client = llm.NewCachedClient(client, redisCache, logger)
			healthHandler.RegisterOptional("redis", redisCache)
		}
	}

	var (
		publishers orchestrator.Publishers
		analytics  observability.AnalyticsWriter
		recorder   indexing.ChangeRecorder
		popular    api.PopularQueries
		sink       *clickhouse.EventSink
	)

	if cfg.ClickHouse.Enabled {
		chClient, err := clickhouse.NewClient(cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		} else {
			defer chClient.Close()
			if err := chClient.EnsureTables(ctx); err != nil {
				logger.Warn("clickhouse table creation failed", zap.Error(err))
			}
			sink = clickhouse.NewEventSink(chClient, cfg.ClickHouse, logger)
			sink.Start()
			publishers = append(publishers, sink)
			analytics = chClient
			recorder = chClient
			popular = chClient
			healthHandler.RegisterOptional("clickhouse", chClient)
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		publishers = append(publishers, producer)
	}

	var events orchestrator.EventPublisher
	if len(publishers) > 0 {
		events = publishers
	}

	slowQueryDetector := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
		analytics,
	)

	orch := orchestrator.New(
		repo,
		client,
		glossary.New(store, logger),
		slowQueryDetector,
		events,
		cfg.Search,
		llm.OptionsFromConfig(cfg.LLM),
		logger,
	)
	go orch.Start(ctx)

	var (
		processor *indexing.Processor
		consumer  *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		processor = indexing.NewProcessor(indexer, orch, recorder, cfg.Elasticsearch, logger)
		consumer = kafka.NewConsumer(cfg.Kafka, processor.HandleEvent, logger)
		consumer.Start(ctx)
		healthHandler.Register("kafka", consumer)
	}

	handler := api.NewHandler(orch, popular, logger)
	router := api.NewRouter(handler, healthHandler, cfg.Server.MaxConcurrent, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	// Stop intake before flushing what the processor and sinks still hold.
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("kafka consumer shutdown error", zap.Error(err))
		}
	}
	if processor != nil {
		if err := processor.Stop(); err != nil {
			logger.Error("indexing processor shutdown error", zap.Error(err))
		}
	}
	if sink != nil {
		sink.Stop()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer shutdown error", zap.Error(err))
		}
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// glossaryStore prefers a seed file when one is configured and falls back to
// the Postgres glossary tables.
func glossaryStore(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) (glossary.Store, error) {
	if cfg.Search.GlossaryFile == "" {
		return postgres.NewGlossaryStore(pool, cfg.Postgres, cfg.Search, logger), nil
	}

	terms, err := glossary.LoadFile(cfg.Search.GlossaryFile)
	if err != nil {
		return nil, err
	}
	logger.Info("glossary loaded from file",
		zap.String("path", cfg.Search.GlossaryFile),
		zap.Int("terms", len(terms)),
	)
	return glossary.NewMemoryStore(terms), nil
}
