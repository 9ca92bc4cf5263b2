package indicators

import (
	"fmt"

	"klineKit/internal/domain"
)

// MovingAverage is a simple or exponential moving average of closes.
type MovingAverage struct {
	period int
	kind   Kind
}

func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.kind, m.period)
}

func (m *MovingAverage) RequiredDataPoints() int {
	return m.period
}

func (m *MovingAverage) Calculate(klines []domain.Kline) (float64, error) {
	if m.kind == KindEMA {
		return EMA(klines, m.period)
	}
	return SMA(klines, m.period)
}

// SMA averages the closes of the last period klines.
func SMA(klines []domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period {
		return 0, notEnough("SMA", period, period, len(klines))
	}
	sum := 0.0
	for _, k := range klines[len(klines)-period:] {
		sum += k.Close
	}
	return sum / float64(period), nil
}

// EMA seeds with the SMA of the first period closes and smooths the rest
// with multiplier 2/(period+1).
func EMA(klines []domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period {
		return 0, notEnough("EMA", period, period, len(klines))
	}
	ema, _ := SMA(klines[:period], period)
	alpha := 2.0 / float64(period+1)
	for _, k := range klines[period:] {
		ema += (k.Close - ema) * alpha
	}
	return ema, nil
}
