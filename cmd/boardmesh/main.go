// Package main is the entry point for the boardmesh sync engine
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/boardmesh/boardmesh/pkg/api"
	"github.com/boardmesh/boardmesh/pkg/compression"
	"github.com/boardmesh/boardmesh/pkg/config"
	"github.com/boardmesh/boardmesh/pkg/conflict"
	"github.com/boardmesh/boardmesh/pkg/notify"
	"github.com/boardmesh/boardmesh/pkg/observability"
	"github.com/boardmesh/boardmesh/pkg/services"
	"github.com/boardmesh/boardmesh/pkg/session"
	"github.com/boardmesh/boardmesh/pkg/storage"
	"github.com/boardmesh/boardmesh/pkg/transform"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("boardmesh\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewStandardLogger("boardmesh")
	logger.Info("Starting boardmesh sync engine", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewInMemoryMetrics()
	tracer := observability.NewStartSpan("boardmesh")

	// Audit storage is optional; without a DSN the engine runs with a
	// degraded audit trail.
	var store services.AuditStore
	var readyCheck func() error
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database connection", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()

		repo := storage.NewAuditRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure audit schema: %v", err)
		}
		store = repo
		readyCheck = func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return repo.Ping(pingCtx)
		}
		logger.Info("Audit store connected", nil)
	} else {
		logger.Warn("No database configured; audit trail disabled", nil)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	var notifier *notify.RedisNotifier
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable; cross-instance notifications disabled", map[string]interface{}{
			"address": cfg.Redis.Address,
			"error":   err.Error(),
		})
	} else {
		notifier = notify.NewRedisNotifier(redisClient, logger, metrics)
		logger.Info("Notifier connected", map[string]interface{}{"address": cfg.Redis.Address})
	}

	detector := conflict.NewDetector(conflict.DetectorConfig{
		SpatialOverlapThreshold: cfg.Engine.SpatialOverlapThreshold,
		TemporalProximityWindow: cfg.Engine.TemporalProximityWindow,
		RecencyWindow:           cfg.Engine.RecencyWindow,
	})

	engine, err := transform.NewEngine(transform.EngineConfig{
		Detector: detector,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create transform engine: %v", err)
	}

	predictor, err := conflict.NewPredictor(conflict.PredictorConfig{
		ProximityThreshold: cfg.Predictor.ProximityThreshold,
		ActivityTTL:        cfg.Predictor.ActivityTTL,
		SampleRate:         cfg.Predictor.SampleRate,
		ActivityCacheSize:  cfg.Cache.Size,
	})
	if err != nil {
		log.Fatalf("Failed to create predictor: %v", err)
	}
	defer predictor.Close()

	var notifierDep services.Notifier
	if notifier != nil {
		notifierDep = notifier
	}
	resolver := services.NewConflictResolutionService(services.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	}, cfg.Engine, store, notifierDep)

	sessions, err := session.NewManager(session.ManagerConfig{
		Engine:     engine,
		Resolver:   resolver,
		Predictor:  predictor,
		Compressor: compression.NewCompressor(),
		EngineCfg:  cfg.Engine,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	server := api.NewServer(api.ServerConfig{
		Sessions:   sessions,
		Resolver:   resolver,
		Notifier:   notifier,
		Logger:     logger,
		Metrics:    metrics,
		ReadyCheck: readyCheck,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("API server listening", map[string]interface{}{
			"address": cfg.API.ListenAddress,
		})
		serverDone <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-serverDone:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	logger.Info("Starting graceful shutdown", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := sessions.Close(); err != nil {
		logger.Error("Session shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := resolver.Close(); err != nil {
		logger.Error("Resolver shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Shutdown complete", nil)
}
