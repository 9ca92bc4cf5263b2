package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klineKit/config"
	"klineKit/internal/bootstrap"
	"klineKit/internal/domain"
	"klineKit/internal/history"
	"klineKit/internal/utils"
)

var (
	symbol     = flag.String("symbol", "BTCUSDT", "symbol to fetch")
	resolution = flag.String("resolution", "60", "bar resolution, e.g. 1, 60, 1D or 1h")
	provider   = flag.String("provider", "", "history provider: binance or udf (default HISTORY_PROVIDER)")
	pages      = flag.Int("pages", 0, "maximum pages (default HISTORY_MAX_PAGES)")
	lookback   = flag.Duration("lookback", 0, "maximum lookback, e.g. 720h (default HISTORY_MAX_LOOKBACK_DAYS)")
	csvFile    = flag.String("csv", "", "write the bars to this CSV file")
	store      = flag.Bool("store", false, "upsert the bars into redis")
)

func main() {
	flag.Parse()

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

	series := domain.Series{Symbol: *symbol, Resolution: *resolution}
	if err := series.Validate(); err != nil {
		log.Fatalf("FATAL: Invalid series: %v", err)
	}

	// 3. Initialize History Provider and Backfiller
	hp, err := bootstrap.Provider(cfg, *provider, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize history provider")
		log.Fatalf("FATAL: Failed to initialize history provider: %v", err)
	}
	backfiller, err := bootstrap.Backfiller(cfg, hp, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize backfiller")
		log.Fatalf("FATAL: Failed to initialize backfiller: %v", err)
	}

	req := history.Request{
		Series:      series,
		End:         time.Now(),
		PageLimit:   cfg.PageLimit,
		MaxPages:    cfg.MaxPages,
		MaxLookback: cfg.MaxLookback,
	}
	if *pages > 0 {
		req.MaxPages = *pages
	}
	if *lookback > 0 {
		req.MaxLookback = *lookback
	}

	// 4. Backfill
	fmt.Printf("Fetching %s from %s (max %d pages, lookback %s)...\n", series, hp.Name(), req.MaxPages, req.MaxLookback)
	res, fetchErr := backfiller.Backfill(ctx, req)
	fmt.Printf("Fetched %d bars in %d pages, stop reason: %s\n", len(res.Klines), res.Pages, res.Stop)
	if len(res.Klines) > 0 {
		first, last := res.Klines[0], res.Klines[len(res.Klines)-1]
		fmt.Printf("Range: %s .. %s\n", first.Time().Format(time.RFC3339), last.Time().Format(time.RFC3339))
	}
	if fetchErr != nil {
		appLogger.Error(ctx, fetchErr, "Backfill ended with error; keeping partial result")
	}

	// 5. Optional outputs
	if *csvFile != "" && len(res.Klines) > 0 {
		if err := utils.WriteKlinesToFile(*csvFile, res.Klines); err != nil {
			appLogger.Error(ctx, err, "Error writing CSV")
			log.Fatalf("Error writing CSV: %v", err)
		}
		appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": *csvFile})
	}

	if *store && len(res.Klines) > 0 {
		redisStore, err := bootstrap.Redis(ctx, cfg, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize redis store")
			log.Fatalf("FATAL: Failed to initialize redis store: %v", err)
		}
		defer redisStore.Close()

		valid := make([]domain.Kline, 0, len(res.Klines))
		for _, k := range res.Klines {
			if err := k.Validate(); err != nil {
				appLogger.Warn(ctx, "Skipping invalid bar", map[string]interface{}{"error": err.Error()})
				continue
			}
			valid = append(valid, k)
		}
		n, err := redisStore.Upsert(ctx, series, valid)
		if err != nil {
			appLogger.Error(ctx, err, "Error storing bars")
			log.Fatalf("Error storing bars: %v", err)
		}
		fmt.Printf("Stored %d bars in %s\n", n, domain.SeriesKey(series))
	}

	if fetchErr != nil {
		os.Exit(1)
	}
}
