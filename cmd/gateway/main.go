package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mediagate/internal/admission"
	"mediagate/internal/cache"
	"mediagate/internal/coalesce"
	"mediagate/internal/config"
	"mediagate/internal/generation"
	"mediagate/internal/handlers"
	"mediagate/internal/httpserver"
	"mediagate/internal/metrics"
	"mediagate/internal/placeholder"
	"mediagate/internal/referrer"
	"mediagate/internal/safety"
	"mediagate/internal/stats"
	"mediagate/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := config.Load()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("safety_base_url", cfg.SafetyBaseURL),
		zap.String("generation_base_url", cfg.GenerationBaseURL),
		zap.String("stats_file", cfg.StatsFile),
		zap.String("resolution_cache_file", cfg.ResolutionCacheFile),
		zap.Bool("safety_configured", cfg.SafetyAPIKey != ""),
		zap.Bool("denylist_configured", cfg.BadDomains != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Durable user stats + admission policy -----
	statsStore, err := stats.Open(cfg.StatsFile, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := statsStore.Close(); err != nil {
			logger.Error("stats store close failed", zap.Error(err))
		}
	}()
	policy := admission.NewPolicy(statsStore)

	// ----- Content safety classifier (fail-closed when unconfigured) -----
	classifier := safety.NewClassifier(safety.Config{
		BaseURL: cfg.SafetyBaseURL,
		APIKey:  cfg.SafetyAPIKey,
		Model:   cfg.SafetyModel,
	}, logger)

	// ----- Referrer transformer -----
	transformer := referrer.NewTransformer(referrer.Config{
		Denylist: cfg.BadDomains,
		BaseURL:  cfg.TextGenBaseURL,
		MemoSize: cfg.CoalescerMaxEntries,
	}, logger)

	// ----- Placeholder resolution cache -----
	uploader := placeholder.NewHTTPUploader(placeholder.UploaderConfig{
		BaseURL: cfg.ImageHostURL,
		APIKey:  cfg.ImageHostAPIKey,
	}, logger)
	placeholderCache, err := placeholder.Open(cfg.ResolutionCacheFile, uploader, logger)
	if err != nil {
		return err
	}

	// ----- Generation result cache + coalescer -----
	resultCache := cache.NewResultCache(cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.CacheTTL,
		Prefix:  "mediagate",
	}, redisClient)
	resultCache = cache.NewLoggingResultCache(resultCache)

	coalescer := coalesce.New(cfg.CoalescerMaxEntries)

	// ----- Downstream generation client -----
	var generator generation.Client
	if cfg.GenerationAPIKey != "" {
		generator, err = generation.NewClient(generation.Config{
			BaseURL: cfg.GenerationBaseURL,
			APIKey:  cfg.GenerationAPIKey,
		}, logger)
		if err != nil {
			return err
		}
		if closer, ok := generator.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	} else {
		// Boot without a provider credential: the admission pipeline
		// still runs, generation itself reports upstream failure.
		logger.Warn("GENERATION_API_KEY not set, generation calls will fail")
		generator = generation.Unconfigured()
	}

	// ----- Handlers -----
	generateHandler := handlers.NewGenerateHandler(
		transformer,
		policy,
		classifier,
		generator,
		coalescer,
		resultCache,
		cfg.CacheTTL,
	)
	placeholderHandler := handlers.NewPlaceholderHandler(placeholderCache)
	adminHandler := handlers.NewAdminHandler(statsStore)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, generateHandler, placeholderHandler, adminHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
