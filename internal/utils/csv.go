package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"klineKit/internal/domain"
)

// KlineCSVHeader is the column order written by WriteKlinesToCSV.
var KlineCSVHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// column aliases accepted when reading, keyed by canonical name
var columnAliases = map[string][]string{
	"timestamp": {"timestamp", "time", "open_time", "date", "ts", "t"},
	"open":      {"open", "o"},
	"high":      {"high", "h"},
	"low":       {"low", "l"},
	"close":     {"close", "c"},
	"volume":    {"volume", "vol", "v"},
}

// millisecond epochs are above this; seconds stay below it until the year 33658
const msThreshold = 1_000_000_000_000

// RowError reports a row that could not be parsed. Line is 0 when the row
// parsed but was rejected later.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	if e.Line == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// WriteKlinesToCSV writes klines with a header row.
func WriteKlinesToCSV(w io.Writer, klines []domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(KlineCSVHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if err := writer.Write([]string{
			strconv.FormatInt(k.Timestamp, 10),
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteKlinesToFile creates filename and writes klines to it.
func WriteKlinesToFile(filename string, klines []domain.Kline) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteKlinesToCSV(file, klines); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return file.Close()
}

// ReadKlinesFromCSV parses klines using the header row to locate columns.
// Rows that fail to parse are collected as RowErrors and skipped; the
// returned error is reserved for unreadable input or an unusable header.
func ReadKlinesFromCSV(r io.Reader) ([]domain.Kline, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("empty CSV: header row missing")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read CSV header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, nil, err
	}

	var klines []domain.Kline
	var rowErrs []RowError
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rowErrs = append(rowErrs, RowError{Line: pe.Line, Err: pe.Err})
				continue
			}
			return klines, rowErrs, fmt.Errorf("read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		k, err := parseRow(record, cols)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		klines = append(klines, k)
	}
	return klines, rowErrs, nil
}

func mapColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}

	cols := make(map[string]int, len(columnAliases))
	var missing []string
	for canonical, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := index[a]; ok {
				cols[canonical] = i
				break
			}
		}
		if _, ok := cols[canonical]; !ok && canonical != "volume" {
			missing = append(missing, canonical)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("CSV header %v is missing columns: %s", header, strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (domain.Kline, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	var k domain.Kline
	raw, ok := field("timestamp")
	if !ok || raw == "" {
		return k, errors.New("missing timestamp")
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return k, err
	}
	k.Timestamp = ts

	for _, target := range []struct {
		name string
		dst  *float64
	}{
		{"open", &k.Open},
		{"high", &k.High},
		{"low", &k.Low},
		{"close", &k.Close},
		{"volume", &k.Volume},
	} {
		raw, ok := field(target.name)
		if !ok || raw == "" {
			if target.name == "volume" {
				continue
			}
			return k, fmt.Errorf("missing %s", target.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return k, fmt.Errorf("parse %s %q: %w", target.name, raw, err)
		}
		*target.dst = v
	}
	return k, nil
}

// ParseTimestamp accepts epoch seconds, epoch milliseconds, RFC3339,
// "2006-01-02 15:04:05" and "2006-01-02" (UTC). It returns epoch seconds.
func ParseTimestamp(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= msThreshold || n <= -msThreshold {
			return n / 1000, nil
		}
		return n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("timestamp %q is not finite", raw)
		}
		if math.Abs(f) >= math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %q out of range", raw)
		}
		if f >= msThreshold {
			return int64(f / 1000), nil
		}
		return int64(f), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", raw)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
