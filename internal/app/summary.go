package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klineKit/internal/domain"
	"klineKit/internal/indicators"
	"klineKit/internal/ports"
)

// Periods used by Summarize.
const (
	SummaryMAPeriod  = 20
	SummaryRSIPeriod = 14
	SummaryATRPeriod = 14
)

// SeriesSummary is a health snapshot of a stored series.
type SeriesSummary struct {
	Series    domain.Series
	Count     int64 // bars in the store
	Window    int   // bars analysed
	First     time.Time
	Last      time.Time
	Gaps      int // adjacent analysed bars further apart than one resolution
	LastClose float64
	// Indicator values keyed by name, e.g. "SMA(20)". Missing when the window is too short.
	Indicators map[string]float64
}

// Summarize loads the newest bars of a series and reports coverage, gaps and
// a few indicators over them.
func Summarize(ctx context.Context, store ports.KlineStore, series domain.Series, bars int) (SeriesSummary, error) {
	summary := SeriesSummary{Series: series, Indicators: map[string]float64{}}
	step, err := domain.ResolutionDuration(series.Resolution)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}

	first, last, count, err := store.Bounds(ctx, series)
	if err != nil {
		return summary, err
	}
	if count == 0 {
		return summary, fmt.Errorf("series %s: %w", series, ports.ErrNotFound)
	}
	summary.Count = count
	summary.First = time.Unix(first, 0).UTC()
	summary.Last = time.Unix(last, 0).UTC()

	if bars <= 0 {
		bars = 200
	}
	klines, err := store.Latest(ctx, series, bars)
	if err != nil {
		return summary, err
	}
	summary.Window = len(klines)
	if len(klines) == 0 {
		return summary, nil
	}
	summary.LastClose = klines[len(klines)-1].Close
	summary.Gaps = CountGaps(klines, step)

	for _, ic := range []struct {
		kind   indicators.Kind
		period int
	}{
		{indicators.KindSMA, SummaryMAPeriod},
		{indicators.KindEMA, SummaryMAPeriod},
		{indicators.KindRSI, SummaryRSIPeriod},
		{indicators.KindATR, SummaryATRPeriod},
	} {
		ind, err := indicators.New(ic.kind, ic.period)
		if err != nil {
			return summary, err
		}
		v, err := ind.Calculate(klines)
		if errors.Is(err, indicators.ErrNotEnoughData) {
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Indicators[ind.Name()] = v
	}
	return summary, nil
}

// CountGaps counts adjacent bars whose spacing exceeds step. Monthly
// resolutions are approximate, so those allow a few extra days.
func CountGaps(klines []domain.Kline, step time.Duration) int {
	tolerance := time.Duration(0)
	if step >= 28*24*time.Hour {
		tolerance = 3 * 24 * time.Hour
	}
	gaps := 0
	for i := 1; i < len(klines); i++ {
		if time.Duration(klines[i].Timestamp-klines[i-1].Timestamp)*time.Second > step+tolerance {
			gaps++
		}
	}
	return gaps
}
