package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidKline is returned by Validate when a bar cannot be stored.
var ErrInvalidKline = errors.New("invalid kline")

// Kline represents a single OHLCV bar. The JSON form is the exact member
// format written to the sorted collections.
type Kline struct {
	Timestamp int64   `json:"timestamp"` // Bar open time, epoch seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the bar open time in UTC.
func (k Kline) Time() time.Time {
	return time.Unix(k.Timestamp, 0).UTC()
}

// Validate checks that the bar is internally consistent.
func (k Kline) Validate() error {
	if k.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp %d must be positive", ErrInvalidKline, k.Timestamp)
	}
	for name, v := range map[string]float64{"open": k.Open, "high": k.High, "low": k.Low, "close": k.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s price %v at %d", ErrInvalidKline, name, v, k.Timestamp)
		}
	}
	if math.IsNaN(k.Volume) || k.Volume < 0 {
		return fmt.Errorf("%w: volume %v at %d", ErrInvalidKline, k.Volume, k.Timestamp)
	}
	if k.High < k.Low {
		return fmt.Errorf("%w: high %v below low %v at %d", ErrInvalidKline, k.High, k.Low, k.Timestamp)
	}
	if k.High < math.Max(k.Open, k.Close) || k.Low > math.Min(k.Open, k.Close) {
		return fmt.Errorf("%w: open/close outside high-low range at %d", ErrInvalidKline, k.Timestamp)
	}
	return nil
}

// Encode returns the JSON member representation.
func (k Kline) Encode() (string, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("encode kline %d: %w", k.Timestamp, err)
	}
	return string(b), nil
}

// DecodeKline parses a stored JSON member.
func DecodeKline(member string) (Kline, error) {
	var k Kline
	if err := json.Unmarshal([]byte(member), &k); err != nil {
		return Kline{}, fmt.Errorf("decode kline member: %w", err)
	}
	return k, nil
}

// DedupeAndSort returns the bars ordered by timestamp with one bar per
// timestamp. When a timestamp repeats, the later occurrence wins.
// The input slice is left untouched.
func DedupeAndSort(klines []Kline) []Kline {
	if len(klines) == 0 {
		return nil
	}
	byTS := make(map[int64]Kline, len(klines))
	for _, k := range klines {
		byTS[k.Timestamp] = k
	}
	out := make([]Kline, 0, len(byTS))
	for _, k := range byTS {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
