// Package bootstrap builds the adapters shared by the commands from config.
package bootstrap

import (
	"context"
	"fmt"

	"klineKit/config"
	"klineKit/internal/adapters/binanceclient"
	"klineKit/internal/adapters/logger"
	"klineKit/internal/adapters/redisstore"
	"klineKit/internal/adapters/sqlite"
	"klineKit/internal/adapters/udfclient"
	"klineKit/internal/history"
	"klineKit/internal/ports"
)

// Logger returns the logger selected by LOG_FORMAT.
func Logger(cfg *config.Config) (ports.Logger, error) {
	l, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	l.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})
	return l, nil
}

// Redis connects the kline cache.
func Redis(ctx context.Context, cfg *config.Config, log ports.Logger) (*redisstore.Store, error) {
	store, err := redisstore.New(ctx, redisstore.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		MirrorTTL: cfg.MirrorTTL,
		MaxBars:   cfg.MaxBars,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "Redis store initialized", map[string]interface{}{"addr": cfg.RedisAddr, "db": cfg.RedisDB})
	return store, nil
}

// Archive opens the SQLite archive, or returns nil when DB_PATH is empty.
func Archive(cfg *config.Config, log ports.Logger) (*sqlite.Repository, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return nil, err
	}
	log.Info(context.Background(), "SQLite archive initialized", map[string]interface{}{"path": cfg.DBPath})
	return repo, nil
}

// Binance creates the exchange client.
func Binance(cfg *config.Config, log ports.Logger) (*binanceclient.Client, error) {
	return binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     log,
	})
}

// Provider creates the history provider named by name, falling back to
// HISTORY_PROVIDER when name is empty.
func Provider(cfg *config.Config, name string, log ports.Logger) (ports.HistoryProvider, error) {
	if name == "" {
		name = cfg.HistoryProvider
	}
	switch name {
	case config.ProviderBinance:
		return Binance(cfg, log)
	case config.ProviderUDF:
		return udfclient.New(udfclient.Config{
			BaseURL: cfg.UDFBaseURL,
			Timeout: cfg.HTTPTimeout,
			Logger:  log,
		})
	}
	return nil, fmt.Errorf("unknown history provider %q: %w", name, ports.ErrConfigurationError)
}

// Backfiller wires a provider into a Backfiller with the configured retry policy.
func Backfiller(cfg *config.Config, provider ports.HistoryProvider, log ports.Logger) (*history.Backfiller, error) {
	return history.NewBackfiller(history.Config{
		Provider:   provider,
		Logger:     log,
		MaxRetries: cfg.BackfillRetries(),
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
	})
}
