package indicators

import (
	"fmt"
	"math"

	"klineKit/internal/domain"
)

// ATR is the Average True Range with Wilder smoothing.
type ATR struct {
	period int
}

func (a *ATR) Name() string            { return fmt.Sprintf("ATR(%d)", a.period) }
func (a *ATR) RequiredDataPoints() int { return a.period + 1 }

func (a *ATR) Calculate(klines []domain.Kline) (float64, error) {
	return WilderATR(klines, a.period)
}

// TrueRange of bar i: the widest of high-low and the distances from the
// previous close. The first bar has no previous close.
func TrueRange(klines []domain.Kline, i int) float64 {
	k := klines[i]
	tr := k.High - k.Low
	if i == 0 {
		return tr
	}
	prev := klines[i-1].Close
	return math.Max(tr, math.Max(math.Abs(k.High-prev), math.Abs(k.Low-prev)))
}

// WilderATR seeds with the mean of the first period true ranges and then
// smooths the remainder.
func WilderATR(klines []domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period+1 {
		return 0, notEnough("ATR", period, period+1, len(klines))
	}
	p := float64(period)
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += TrueRange(klines, i)
	}
	atr /= p
	for i := period; i < len(klines); i++ {
		atr = (atr*(p-1) + TrueRange(klines, i)) / p
	}
	return atr, nil
}
