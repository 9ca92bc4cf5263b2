package indicators

import (
	"fmt"

	"klineKit/internal/domain"
)

// RSI is the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period int
}

func (r *RSI) Name() string            { return fmt.Sprintf("RSI(%d)", r.period) }
func (r *RSI) RequiredDataPoints() int { return r.period + 1 }

func (r *RSI) Calculate(klines []domain.Kline) (float64, error) {
	return WilderRSI(klines, r.period)
}

// WilderRSI needs period+1 klines. A flat series is 50; a series without
// losses is 100.
func WilderRSI(klines []domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) <= period {
		return 0, notEnough("RSI", period, period+1, len(klines))
	}
	p := float64(period)

	var gain, loss float64
	for i := 1; i <= period; i++ {
		if d := klines[i].Close - klines[i-1].Close; d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= p
	loss /= p

	for i := period + 1; i < len(klines); i++ {
		d := klines[i].Close - klines[i-1].Close
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*(p-1) + up) / p
		loss = (loss*(p-1) + down) / p
	}

	switch {
	case loss == 0 && gain == 0:
		return 50, nil
	case loss == 0:
		return 100, nil
	}
	rsi := 100 - 100/(1+gain/loss)
	if rsi < 0 {
		rsi = 0
	} else if rsi > 100 {
		rsi = 100
	}
	return rsi, nil
}
