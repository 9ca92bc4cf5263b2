package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"klineKit/config"
	"klineKit/internal/app"
	"klineKit/internal/bootstrap"
)

type patternList []string

func (p *patternList) String() string { return strings.Join(*p, ",") }

func (p *patternList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

var (
	patterns patternList
	dryRun   = flag.Bool("dry-run", false, "list matches without deleting")
	all      = flag.Bool("all", false, "allow the bare * pattern")
)

func main() {
	flag.Var(&patterns, "pattern", "SCAN match pattern to delete (repeatable)")
	flag.Parse()
	if len(patterns) == 0 {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// 3. Initialize Redis
	store, err := bootstrap.Redis(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize redis store")
		log.Fatalf("FATAL: Failed to initialize redis store: %v", err)
	}
	defer store.Close()

	keyspace, err := app.NewKeyspaceService(store, appLogger)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	keyspace.AllowAll = *all

	// 4. Cleanup
	report, err := keyspace.Cleanup(ctx, patterns, *dryRun)
	if err != nil {
		appLogger.Error(ctx, err, "Cleanup failed")
		log.Fatalf("Cleanup failed: %v", err)
	}
	for _, k := range report.Matched {
		fmt.Println(k)
	}
	if report.DryRun {
		fmt.Printf("%d keys would be deleted (dry run)\n", len(report.Matched))
		return
	}
	fmt.Printf("Deleted %d of %d matched keys\n", report.Deleted, len(report.Matched))
}
