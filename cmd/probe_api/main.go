package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"klineKit/config"
	"klineKit/internal/bootstrap"
	"klineKit/internal/ports"
	"klineKit/internal/probe"
)

var (
	file      = flag.String("file", "", "probe catalog (default PROBES_FILE)")
	dominance = flag.Bool("dominance", false, "also report BTC dominance")
	domURL    = flag.String("dominance-url", probe.DefaultDominanceURL, "CoinGecko-compatible API root")
	exchange  = flag.String("exchange", "", "also check the Binance futures API using this symbol, e.g. BTCUSDT")
)

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *file == "" {
		*file = cfg.ProbesFile
	}

	// 2. Initialize Logger
	appLogger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	ctx := context.Background()

	// 3. Load the Catalog
	var probes []probe.Probe
	timeout := cfg.HTTPTimeout
	cat, err := probe.LoadCatalog(*file)
	switch {
	case err == nil:
		probes = cat.Probes
		if cat.TimeoutSeconds > 0 {
			timeout = cat.Timeout()
		}
	case (*dominance || *exchange != "") && errors.Is(err, os.ErrNotExist):
		appLogger.Warn(ctx, "Probe catalog not found, running built-in checks only", map[string]interface{}{"file": *file})
	default:
		log.Fatalf("FATAL: Failed to load probe catalog: %v", err)
	}
	if *dominance {
		probes = append(probes, probe.Probe{Name: "btc-dominance", Kind: probe.KindDominance, URL: *domURL})
	}

	// 4. Run
	runner, err := probe.NewRunner(probe.RunnerConfig{Timeout: timeout, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	results := runner.Run(ctx, probes)
	if *exchange != "" {
		results = append(results, exchangeChecks(ctx, cfg, appLogger, *exchange)...)
	}

	failed := 0
	for _, r := range results {
		if r.OK {
			fmt.Printf("✅ %-28s %-9s %4d %8s  %s\n", r.Name, r.Kind, r.Status, r.Duration.Round(time.Millisecond), r.Value)
			continue
		}
		failed++
		fmt.Printf("❌ %-28s %-9s %4d %8s  %v\n", r.Name, r.Kind, r.Status, r.Duration.Round(time.Millisecond), r.Err)
	}
	fmt.Printf("%d/%d probes passed\n", len(results)-failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

// exchangeChecks pings the Binance futures API and reads server time and mark price.
func exchangeChecks(ctx context.Context, cfg *config.Config, appLogger ports.Logger, symbol string) []probe.Result {
	client, err := bootstrap.Binance(cfg, appLogger)
	if err != nil {
		return []probe.Result{{Name: "binance", Kind: "exchange", Err: err}}
	}

	check := func(name string, fn func(context.Context) (string, error)) probe.Result {
		cctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
		defer cancel()
		start := time.Now()
		value, err := fn(cctx)
		if err != nil {
			err = fmt.Errorf("%w: %w", ports.ErrProbeFailed, err)
		}
		return probe.Result{Name: name, Kind: "exchange", OK: err == nil, Value: value, Duration: time.Since(start), Err: err}
	}

	return []probe.Result{
		check("binance-ping", func(ctx context.Context) (string, error) {
			return "pong", client.Ping(ctx)
		}),
		check("binance-server-time", func(ctx context.Context) (string, error) {
			t, err := client.GetServerTime(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (skew %s)", t.UTC().Format(time.RFC3339), time.Since(t).Round(time.Millisecond)), nil
		}),
		check("binance-mark-"+symbol, func(ctx context.Context) (string, error) {
			p, err := client.GetMarkPrice(ctx, symbol)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%g", p), nil
		}),
	}
}
