package ports

import (
	"context"
	"time"

	"klineKit/internal/domain"
)

// KlineStore persists kline series. Upsert must be idempotent: writing the
// same bar twice leaves exactly one bar for that timestamp.
type KlineStore interface {
	// Upsert writes the bars for a series and returns how many were written.
	Upsert(ctx context.Context, series domain.Series, klines []domain.Kline) (int, error)
	// Range returns bars with from <= timestamp <= to, ascending.
	Range(ctx context.Context, series domain.Series, from, to int64) ([]domain.Kline, error)
	// Latest returns the newest n bars, ascending.
	Latest(ctx context.Context, series domain.Series, n int) ([]domain.Kline, error)
	// Bounds returns the first and last timestamps and the bar count.
	// All values are zero for an unknown series.
	Bounds(ctx context.Context, series domain.Series) (first, last, count int64, err error)
	// DeleteSeries removes a series and returns the number of keys or rows removed.
	DeleteSeries(ctx context.Context, series domain.Series) (int64, error)
	// Close releases the underlying connection.
	Close() error
}

// Keyspace exposes raw key inspection and deletion for maintenance tools.
type Keyspace interface {
	Ping(ctx context.Context) error
	// ScanKeys returns keys matching pattern; limit <= 0 means no limit.
	ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error)
	Describe(ctx context.Context, key string) (domain.KeyInfo, error)
	DeleteKeys(ctx context.Context, keys []string) (int64, error)
}

// DrawingStore keeps per-user chart drawings.
type DrawingStore interface {
	SaveDrawing(ctx context.Context, d *domain.Drawing) error
	ListDrawings(ctx context.Context, user, symbol string) ([]*domain.Drawing, error)
	DeleteDrawings(ctx context.Context, user, symbol string) (int64, error)
}

// HistoryProvider serves historical bars one page at a time.
type HistoryProvider interface {
	// Name identifies the provider in logs.
	Name() string
	// FetchBefore returns up to limit bars with timestamp strictly before end.
	// Order is not guaranteed. ErrRateLimited signals throttling.
	FetchBefore(ctx context.Context, series domain.Series, end time.Time, limit int) ([]domain.Kline, error)
}
