package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

// Defaults applied when a Request or Config leaves a bound unset.
const (
	DefaultPageLimit   = 500
	DefaultMaxPages    = 200
	DefaultMaxLookback = 365 * 24 * time.Hour
	DefaultMaxRetries  = 5
	DefaultBackoffMin  = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
)

// StopReason says why a backfill ended.
type StopReason string

const (
	StopExhausted StopReason = "exhausted" // provider returned an empty page
	StopMaxPages  StopReason = "max_pages"
	StopLookback  StopReason = "lookback" // reached End - MaxLookback
	StopStalled   StopReason = "stalled"  // cursor did not move backwards
	StopError     StopReason = "error"
)

// Request describes one backward paging run.
type Request struct {
	Series      domain.Series
	End         time.Time // zero means now
	PageLimit   int
	MaxPages    int
	MaxLookback time.Duration
}

// Result is what a run collected. Klines are deduplicated and ascending.
type Result struct {
	Klines []domain.Kline
	Pages  int
	Stop   StopReason
}

// Config holds configuration for the Backfiller.
type Config struct {
	Provider   ports.HistoryProvider
	Logger     ports.Logger
	MaxRetries int           // retries per page on rate limiting
	BackoffMin time.Duration // first wait
	BackoffMax time.Duration // wait cap
}

// Backfiller pages backwards through a HistoryProvider.
type Backfiller struct {
	provider   ports.HistoryProvider
	logger     ports.Logger
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
	now        func() time.Time
}

// NewBackfiller creates a Backfiller.
func NewBackfiller(cfg Config) (*Backfiller, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("history provider is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for backfiller")
	}
	b := &Backfiller{
		provider:   cfg.Provider,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		now:        time.Now,
	}
	if b.maxRetries < 0 {
		b.maxRetries = 0
	} else if b.maxRetries == 0 {
		b.maxRetries = DefaultMaxRetries
	}
	if b.backoffMin <= 0 {
		b.backoffMin = DefaultBackoffMin
	}
	if b.backoffMax < b.backoffMin {
		b.backoffMax = DefaultBackoffMax
		if b.backoffMax < b.backoffMin {
			b.backoffMax = b.backoffMin
		}
	}
	return b, nil
}

// Backfill walks the cursor from req.End towards the past one page at a time.
// The run always terminates: by an empty page, by MaxPages, by the lookback
// floor, or when the provider stops moving the cursor backwards.
// If an error occurs the bars collected so far are returned with it.
func (b *Backfiller) Backfill(ctx context.Context, req Request) (Result, error) {
	if err := req.Series.Validate(); err != nil {
		return Result{Stop: StopError}, fmt.Errorf("backfill: %w: %w", ports.ErrInvalidRequest, err)
	}
	end := req.End
	if end.IsZero() {
		end = b.now()
	}
	pageLimit := req.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	lookback := req.MaxLookback
	if lookback <= 0 {
		lookback = DefaultMaxLookback
	}
	floor := end.Add(-lookback).Unix()

	fields := map[string]interface{}{
		"series":   req.Series.String(),
		"provider": b.provider.Name(),
	}
	b.logger.Info(ctx, "Backfill started", fields, map[string]interface{}{
		"end":       end.UTC().Format(time.RFC3339),
		"floor":     time.Unix(floor, 0).UTC().Format(time.RFC3339),
		"maxPages":  maxPages,
		"pageLimit": pageLimit,
	})

	var collected []domain.Kline
	res := Result{}
	cursor := end.Unix()

	for {
		if res.Pages >= maxPages {
			res.Stop = StopMaxPages
			break
		}
		if err := ctx.Err(); err != nil {
			return b.fail(ctx, res, collected, fmt.Errorf("backfill canceled: %w: %w", ports.ErrContextCanceled, err))
		}

		page, err := b.fetchPage(ctx, req.Series, time.Unix(cursor, 0), pageLimit)
		if err != nil {
			return b.fail(ctx, res, collected, err)
		}
		res.Pages++
		if len(page) == 0 {
			res.Stop = StopExhausted
			break
		}

		oldest := page[0].Timestamp
		for _, k := range page {
			if k.Timestamp < oldest {
				oldest = k.Timestamp
			}
			if k.Timestamp >= floor && k.Timestamp < cursor {
				collected = append(collected, k)
			}
		}

		b.logger.Debug(ctx, "Backfill page", fields, map[string]interface{}{
			"page":   res.Pages,
			"bars":   len(page),
			"oldest": oldest,
		})

		if oldest >= cursor {
			res.Stop = StopStalled
			break
		}
		if oldest <= floor {
			res.Stop = StopLookback
			break
		}
		cursor = oldest
	}

	res.Klines = domain.DedupeAndSort(collected)
	b.logger.Info(ctx, "Backfill finished", fields, map[string]interface{}{
		"pages": res.Pages,
		"bars":  len(res.Klines),
		"stop":  string(res.Stop),
	})
	return res, nil
}

func (b *Backfiller) fail(ctx context.Context, res Result, collected []domain.Kline, err error) (Result, error) {
	res.Klines = domain.DedupeAndSort(collected)
	res.Stop = StopError
	b.logger.Error(ctx, err, "Backfill aborted", map[string]interface{}{
		"provider": b.provider.Name(),
		"pages":    res.Pages,
		"partial":  len(res.Klines),
	})
	return res, err
}

// fetchPage retries rate limited requests with jittered exponential backoff.
func (b *Backfiller) fetchPage(ctx context.Context, series domain.Series, end time.Time, limit int) ([]domain.Kline, error) {
	bo := &backoff.Backoff{
		Min:    b.backoffMin,
		Max:    b.backoffMax,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 0; ; attempt++ {
		page, err := b.provider.FetchBefore(ctx, series, end, limit)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, ports.ErrRateLimited) {
			return nil, err
		}
		if attempt >= b.maxRetries {
			return nil, fmt.Errorf("giving up after %d retries: %w", attempt, err)
		}

		wait := bo.Duration()
		b.logger.Warn(ctx, "Rate limited, backing off", map[string]interface{}{
			"series":  series.String(),
			"attempt": attempt + 1,
			"wait":    wait.String(),
		})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("backoff canceled: %w: %w", ports.ErrContextCanceled, ctx.Err())
		case <-timer.C:
		}
	}
}
