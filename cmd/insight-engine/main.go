package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oceanstack/argo-insight/internal/aggregator"
	"github.com/oceanstack/argo-insight/internal/alerts"
	"github.com/oceanstack/argo-insight/internal/api"
	"github.com/oceanstack/argo-insight/internal/cache"
	"github.com/oceanstack/argo-insight/internal/capability"
	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/config"
	"github.com/oceanstack/argo-insight/internal/detector"
	"github.com/oceanstack/argo-insight/internal/executor"
	"github.com/oceanstack/argo-insight/internal/metrics"
	"github.com/oceanstack/argo-insight/internal/repo"
	"github.com/oceanstack/argo-insight/internal/retrieval"
	"github.com/oceanstack/argo-insight/internal/services"
	"github.com/oceanstack/argo-insight/internal/translator"
	"github.com/oceanstack/argo-insight/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting argo-insight",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NewMemoryProvider(cfg.Retrieval.MemoryCacheSize)
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		remote, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
			Addr:        cfg.Cache.Addr,
			Password:    cfg.Cache.Password,
			DB:          cfg.Cache.DB,
			DialTimeout: cfg.Cache.DialTimeout,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = cache.NewTiered(cacheProvider, remote, 5*time.Minute)
		}
	}
	defer cacheProvider.Close()

	pool := capability.NewPool(cfg.Capabilities.MaxConcurrent, cfg.Capabilities.Timeout)
	embedder, generator, closeCapabilities := buildCapabilities(ctx, cfg.Capabilities, logger)
	defer closeCapabilities()

	var guardedEmbedder capability.Embedder
	if embedder != nil {
		guardedEmbedder = pool.GuardEmbedder(embedder)
	}
	var guardedGenerator capability.Generator
	if generator != nil && cfg.Capabilities.GenerationEnabled {
		guardedGenerator = pool.GuardGenerator(generator)
	}

	store, err := catalog.Load()
	if err != nil {
		logger.Error("failed to load schema catalog", slog.Any("error", err))
		os.Exit(1)
	}
	if guardedEmbedder != nil {
		indexed, err := store.WithEmbeddings(ctx, guardedEmbedder)
		if err != nil {
			logger.Warn("catalog indexing failed, retrieval will be lexical", slog.Any("error", err))
		} else {
			store = indexed
			logger.Info("schema catalog indexed", slog.String("model", store.Model()))
		}
	}

	lexicon, err := translator.LoadLexicon(cfg.Translator.LexiconPath, logger)
	if err != nil {
		logger.Error("failed to load lexicon", slog.Any("error", err))
		os.Exit(1)
	}

	var (
		events  services.EventStore   = repo.NewMemoryEvents()
		history services.HistoryStore = repo.NewMemoryHistory(1000)
		exec    services.Executor
	)
	if cfg.Postgres.DSN != "" {
		pg, err := repo.OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pg.Close()
		events = pg
		history = pg
		exec = executor.New(store, pg, executor.Options{MaxRows: cfg.Executor.MaxRows, Timeout: cfg.Executor.Timeout}, logger)
	} else {
		logger.Warn("no postgres dsn configured, query execution disabled and events kept in memory")
	}

	var publisher services.Publisher = alerts.Noop{}
	if cfg.Alerts.Enabled && cfg.Alerts.URL != "" {
		amqpPublisher, err := alerts.DialAMQP(cfg.Alerts.URL, cfg.Alerts.Queue, logger)
		if err != nil {
			logger.Warn("alert publisher unavailable", slog.Any("error", err))
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
		}
	}

	retriever := retrieval.New(store, guardedEmbedder, cacheProvider, cfg.Retrieval.EmbeddingTTL, logger)
	tr := translator.New(store, guardedGenerator, lexicon, translator.Options{
		Weights: translator.Weights{
			Retrieval:          cfg.Translator.RetrievalWeight,
			Certainty:          cfg.Translator.CertaintyWeight,
			RewritePenalty:     cfg.Translator.RewritePenalty,
			HeuristicCertainty: cfg.Translator.HeuristicCertainty,
		},
		ResponseCache: cacheProvider,
		ResponseTTL:   cfg.Retrieval.EmbeddingTTL,
	}, logger)

	queryService := services.NewQueryService(logger, retriever, tr, exec, history, cfg.Retrieval.K)
	anomalyService := services.NewAnomalyService(logger,
		detector.New(cfg.Detector, logger),
		aggregator.New(cfg.Aggregator, logger),
		events,
		publisher)
	if err := anomalyService.Restore(ctx); err != nil {
		logger.Warn("failed to restore open anomaly events", slog.Any("error", err))
	}
	go anomalyService.Run(ctx, cfg.Aggregator.SweepInterval)

	server, err := api.NewServer(cfg.Server, services.NewInsightService(logger, queryService, anomalyService))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddress,
		Handler:      api.NewRouter(api.NewHandler(queryService, anomalyService, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	if _, err := anomalyService.Sweep(context.Background()); err != nil {
		logger.Warn("final anomaly sweep", slog.Any("error", err))
	}
	logger.Info("argo-insight stopped")
}

// buildCapabilities selects the embedding and generation backends. The
// hashing provider has no generator, so translation runs on the lexicon.
func buildCapabilities(ctx context.Context, cfg config.CapabilitiesConfig, logger *slog.Logger) (capability.Embedder, capability.Generator, func()) {
	noop := func() {}
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		g, err := capability.NewGemini(ctx, cfg.APIKey, cfg.EmbeddingModel, cfg.GenerationModel)
		if err != nil {
			logger.Warn("gemini unavailable, using hashing embedder", slog.Any("error", err))
			return capability.NewHashing(cfg.EmbeddingDimensions), nil, noop
		}
		return g, g, func() {
			if err := g.Close(); err != nil {
				logger.Warn("close gemini client", slog.Any("error", err))
			}
		}
	case "ollama":
		o := capability.NewOllama(cfg.OllamaURL, cfg.EmbeddingModel, cfg.GenerationModel)
		return o, o, noop
	}
	return capability.NewHashing(cfg.EmbeddingDimensions), nil, noop
}
