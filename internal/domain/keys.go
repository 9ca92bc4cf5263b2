package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	klinePrefix    = "kline"
	seriesPrefix   = "zset:kline"
	drawingsPrefix = "drawings"
)

// Series identifies one symbol/resolution time series.
type Series struct {
	Symbol     string
	Resolution string
}

// String renders the series as SYMBOL:RESOLUTION.
func (s Series) String() string {
	return s.Symbol + ":" + s.Resolution
}

// Validate rejects series that would produce ambiguous keys.
func (s Series) Validate() error {
	if s.Symbol == "" || s.Resolution == "" {
		return errors.New("series symbol and resolution are required")
	}
	if strings.Contains(s.Symbol, ":") || strings.Contains(s.Resolution, ":") {
		return fmt.Errorf("series %q: symbol and resolution must not contain ':'", s.String())
	}
	if _, err := ResolutionDuration(s.Resolution); err != nil {
		return err
	}
	return nil
}

// ParseSeries parses SYMBOL:RESOLUTION.
func ParseSeries(v string) (Series, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return Series{}, fmt.Errorf("series %q must look like SYMBOL:RESOLUTION", v)
	}
	s := Series{Symbol: parts[0], Resolution: parts[1]}
	if err := s.Validate(); err != nil {
		return Series{}, err
	}
	return s, nil
}

// KlineKey is the mirrored per-bar key: kline:<symbol>:<resolution>:<timestamp>.
func KlineKey(s Series, ts int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", klinePrefix, s.Symbol, s.Resolution, ts)
}

// KlineKeyPattern matches every mirrored bar of a series.
func KlineKeyPattern(s Series) string {
	return fmt.Sprintf("%s:%s:%s:*", klinePrefix, s.Symbol, s.Resolution)
}

// SeriesKey is the sorted collection key: zset:kline:<symbol>:<resolution>.
func SeriesKey(s Series) string {
	return fmt.Sprintf("%s:%s:%s", seriesPrefix, s.Symbol, s.Resolution)
}

// DrawingsKey is the per-user chart drawing hash: drawings:<user>:<symbol>.
func DrawingsKey(user, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", drawingsPrefix, user, symbol)
}

// ParseSeriesKey extracts the series from a zset:kline key.
func ParseSeriesKey(key string) (Series, bool) {
	rest, ok := strings.CutPrefix(key, seriesPrefix+":")
	if !ok {
		return Series{}, false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Series{}, false
	}
	return Series{Symbol: parts[0], Resolution: parts[1]}, true
}

// ResolutionDuration converts a resolution string into a bar length.
// Both UDF spellings (1, 60, 1D, 1W, 1M) and exchange spellings
// (1m, 1h, 4h, 1d, 1w) are accepted. A month is treated as 30 days.
func ResolutionDuration(res string) (time.Duration, error) {
	if res == "" {
		return 0, errors.New("empty resolution")
	}
	if n, err := strconv.Atoi(res); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("resolution %q must be positive", res)
		}
		return time.Duration(n) * time.Minute, nil
	}

	unit := res[len(res)-1:]
	num := res[:len(res)-1]
	n := 1
	if num != "" {
		v, err := strconv.Atoi(num)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("unsupported resolution %q", res)
		}
		n = v
	}

	day := 24 * time.Hour
	switch unit {
	case "s", "S":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h", "H":
		return time.Duration(n) * time.Hour, nil
	case "d", "D":
		return time.Duration(n) * day, nil
	case "w", "W":
		return time.Duration(n) * 7 * day, nil
	case "M":
		return time.Duration(n) * 30 * day, nil
	}
	return 0, fmt.Errorf("unsupported resolution %q", res)
}
