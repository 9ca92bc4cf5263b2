package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"klineKit/config"
	"klineKit/internal/app"
	"klineKit/internal/bootstrap"
	"klineKit/internal/domain"
)

var (
	pattern  = flag.String("pattern", "zset:kline:*", "SCAN match pattern")
	limit    = flag.Int("limit", 100, "maximum keys to list, 0 for all")
	summary  = flag.String("summary", "", "summarize a series, SYMBOL:RESOLUTION")
	bars     = flag.Int("bars", 200, "bars analysed by -summary")
	drawings = flag.String("drawings", "", "list drawings for USER:SYMBOL")
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

	// 4. Key table
	infos, err := keyspace.Inspect(ctx, *pattern, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Key inspection failed")
		log.Fatalf("Key inspection failed: %v", err)
	}
	fmt.Printf("%d keys matching %q\n", len(infos), *pattern)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tTTL\tSIZE")
	for _, info := range infos {
		ttl := "none"
		if !info.Persistent() {
			ttl = info.TTL.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.Key, info.Type, ttl, info.Size)
	}
	tw.Flush()

	// 5. Optional series summary
	if *summary != "" {
		series, err := domain.ParseSeries(*summary)
		if err != nil {
			log.Fatalf("Invalid -summary: %v", err)
		}
		s, err := app.Summarize(ctx, store, series, *bars)
		if err != nil {
			appLogger.Error(ctx, err, "Series summary failed", map[string]interface{}{"series": series.String()})
			log.Fatalf("Series summary failed: %v", err)
		}
		fmt.Printf("\nSeries %s\n", s.Series)
		fmt.Printf("  bars: %d  (%s .. %s)\n", s.Count, s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
		fmt.Printf("  window: %d  gaps: %d  last close: %g\n", s.Window, s.Gaps, s.LastClose)
		names := make([]string, 0, len(s.Indicators))
		for name := range s.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-8s %.4f\n", name, s.Indicators[name])
		}
	}

	// 6. Optional drawings
	if *drawings != "" {
		user, sym, ok := strings.Cut(*drawings, ":")
		if !ok {
			log.Fatalf("Invalid -drawings %q, want USER:SYMBOL", *drawings)
		}
		list, err := store.ListDrawings(ctx, user, sym)
		if err != nil {
			appLogger.Error(ctx, err, "Listing drawings failed")
			log.Fatalf("Listing drawings failed: %v", err)
		}
		fmt.Printf("\n%d drawings in %s\n", len(list), domain.DrawingsKey(user, sym))
		for _, d := range list {
			fmt.Printf("  %s  %s  %s\n", d.ID, d.UpdatedAt.Format(time.RFC3339), string(d.Payload))
		}
	}
}
