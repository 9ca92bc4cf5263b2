package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klineKit/config"
	"klineKit/internal/app"
	"klineKit/internal/bootstrap"
	"klineKit/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, err := app.ParseTargets(cfg.SyncTargets)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Invalid SYNC_TARGETS")
		log.Fatalf("FATAL: Invalid SYNC_TARGETS: %v", err)
	}

	// 3. Initialize Stores
	cache, err := bootstrap.Redis(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize redis store")
		log.Fatalf("FATAL: Failed to initialize redis store: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing redis store")
		}
	}()

	var archive ports.KlineStore
	repo, err := bootstrap.Archive(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize SQLite archive")
		log.Fatalf("FATAL: Failed to initialize SQLite archive: %v", err)
	}
	if repo != nil {
		archive = repo
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing SQLite archive")
			}
		}()
	}

	// 4. Initialize History Provider and Backfiller
	provider, err := bootstrap.Provider(cfg, "", appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize history provider")
		log.Fatalf("FATAL: Failed to initialize history provider: %v", err)
	}
	backfiller, err := bootstrap.Backfiller(cfg, provider, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize backfiller")
		log.Fatalf("FATAL: Failed to initialize backfiller: %v", err)
	}

	// 5. Initialize Sync Service
	syncService, err := app.NewSyncService(app.SyncConfig{
		Backfiller:  backfiller,
		Cache:       cache,
		Archive:     archive,
		Logger:      appLogger,
		PageLimit:   cfg.PageLimit,
		MaxPages:    cfg.MaxPages,
		MaxLookback: cfg.MaxLookback,
		Registerer:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize sync service")
		log.Fatalf("FATAL: Failed to initialize sync service: %v", err)
	}
	appLogger.Info(ctx, "Sync service initialized", map[string]interface{}{
		"provider": provider.Name(),
		"targets":  cfg.SyncTargets,
	})

	// 6. Run once, or on schedule until SIGINT/SIGTERM
	if cfg.SyncCron == "" {
		report := syncService.SyncOnce(ctx, targets)
		if report.Failed() > 0 {
			appLogger.Warn(ctx, "Sync finished with failures", map[string]interface{}{"failed": report.Failed()})
			stop()
			os.Exit(1)
		}
		appLogger.Info(ctx, "Application finished gracefully.")
		return
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			appLogger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server failure")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := syncService.Schedule(ctx, cfg.SyncCron, targets); err != nil {
		appLogger.Error(ctx, err, "Sync scheduler exited with error")
		log.Fatalf("FATAL: Sync scheduler exited with error: %v", err)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
