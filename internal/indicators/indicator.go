package indicators

import (
	"errors"
	"fmt"

	"klineKit/internal/domain"
)

// ErrNotEnoughData is returned when a series is shorter than an indicator needs.
var ErrNotEnoughData = errors.New("not enough data")

// Indicator computes a single value from an ascending kline series.
type Indicator interface {
	Calculate(klines []domain.Kline) (float64, error)
	// RequiredDataPoints returns the minimum number of klines needed.
	RequiredDataPoints() int
	Name() string
}

// Kind names an indicator family.
type Kind string

const (
	KindSMA Kind = "SMA"
	KindEMA Kind = "EMA"
	KindRSI Kind = "RSI"
	KindATR Kind = "ATR"
)

// New builds an indicator of the given kind and period.
func New(kind Kind, period int) (Indicator, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicator %s: period must be positive, got %d", kind, period)
	}
	switch kind {
	case KindSMA, KindEMA:
		return &MovingAverage{period: period, kind: kind}, nil
	case KindRSI:
		return &RSI{period: period}, nil
	case KindATR:
		return &ATR{period: period}, nil
	}
	return nil, fmt.Errorf("unsupported indicator kind %q", kind)
}

func notEnough(name string, period, need, got int) error {
	return fmt.Errorf("%s(%d): %w: need %d klines, got %d", name, period, ErrNotEnoughData, need, got)
}
