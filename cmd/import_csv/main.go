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
	"klineKit/internal/app"
	"klineKit/internal/bootstrap"
	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

var (
	file       = flag.String("file", "", "CSV file to import (required)")
	symbol     = flag.String("symbol", "", "symbol the file belongs to (required)")
	resolution = flag.String("resolution", "60", "bar resolution of the file")
	archive    = flag.Bool("archive", false, "also write into the SQLite archive at DB_PATH")
	batch      = flag.Int("batch", 1000, "bars per upsert")
	showErrors = flag.Int("show-errors", 10, "print at most this many row errors")
)

func main() {
	flag.Parse()
	if *file == "" || *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

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

	// 3. Initialize Stores
	redisStore, err := bootstrap.Redis(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize redis store")
		log.Fatalf("FATAL: Failed to initialize redis store: %v", err)
	}
	defer redisStore.Close()

	stores := []ports.KlineStore{redisStore}
	if *archive {
		repo, err := bootstrap.Archive(cfg, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize SQLite archive")
			log.Fatalf("FATAL: Failed to initialize SQLite archive: %v", err)
		}
		if repo != nil {
			defer repo.Close()
			stores = append(stores, repo)
		}
	}

	// 4. Import
	importer, err := app.NewImporter(appLogger, *batch, stores...)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize importer: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("FATAL: Failed to open %s: %v", *file, err)
	}
	defer f.Close()

	series := domain.Series{Symbol: *symbol, Resolution: *resolution}
	report, err := importer.ImportCSV(ctx, f, series)
	if err != nil {
		appLogger.Error(ctx, err, "CSV import failed", map[string]interface{}{"file": *file})
		log.Fatalf("CSV import failed: %v", err)
	}

	fmt.Printf("Imported %s into %s\n", *file, domain.SeriesKey(series))
	fmt.Printf("  rows: %d  stored: %d  invalid: %d  duplicates: %d\n",
		report.Rows, report.Stored, report.Invalid, report.Duplicates)
	if report.Stored > 0 {
		fmt.Printf("  range: %s .. %s\n",
			time.Unix(report.First, 0).UTC().Format(time.RFC3339),
			time.Unix(report.Last, 0).UTC().Format(time.RFC3339))
	}
	for i, rowErr := range report.RowErrors {
		if i >= *showErrors {
			fmt.Printf("  ... %d more row errors\n", len(report.RowErrors)-i)
			break
		}
		fmt.Printf("  %v\n", rowErr)
	}
}
