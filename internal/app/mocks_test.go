package app

import (
	"context"
	"path"
	"sync"

	"klineKit/internal/domain"
	"klineKit/internal/history"
	"klineKit/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// memStore is an in-memory KlineStore keyed by series and timestamp.
type memStore struct {
	mu        sync.Mutex
	series    map[domain.Series]map[int64]domain.Kline
	upsertErr error
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{series: make(map[domain.Series]map[int64]domain.Kline)}
}

func (m *memStore) Upsert(ctx context.Context, s domain.Series, klines []domain.Kline) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	for _, k := range klines {
		if err := k.Validate(); err != nil {
			return 0, err
		}
	}
	bars, ok := m.series[s]
	if !ok {
		bars = make(map[int64]domain.Kline)
		m.series[s] = bars
	}
	for _, k := range klines {
		bars[k.Timestamp] = k
	}
	return len(klines), nil
}

func (m *memStore) sorted(s domain.Series) []domain.Kline {
	var out []domain.Kline
	for _, k := range m.series[s] {
		out = append(out, k)
	}
	return domain.DedupeAndSort(out)
}

func (m *memStore) Range(ctx context.Context, s domain.Series, from, to int64) ([]domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Kline
	for _, k := range m.sorted(s) {
		if k.Timestamp >= from && k.Timestamp <= to {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) Latest(ctx context.Context, s domain.Series, n int) ([]domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(s)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memStore) Bounds(ctx context.Context, s domain.Series) (int64, int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(s)
	if len(all) == 0 {
		return 0, 0, 0, nil
	}
	return all[0].Timestamp, all[len(all)-1].Timestamp, int64(len(all)), nil
}

func (m *memStore) DeleteSeries(ctx context.Context, s domain.Series) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.series[s]))
	delete(m.series, s)
	return n, nil
}

func (m *memStore) Close() error { return nil }

// mockBackfiller records requests and replies from a per-series table.
// With block set each call waits for ctx to end before replying.
type mockBackfiller struct {
	mu          sync.Mutex
	requests    []history.Request
	results     map[domain.Series]history.Result
	errs        map[domain.Series]error
	block       bool
	inFlight    int
	maxInFlight int
}

func (m *mockBackfiller) Backfill(ctx context.Context, req history.Request) (history.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	block := m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	return m.results[req.Series], m.errs[req.Series]
}

// memKeyspace is a flat key map honouring glob patterns via path.Match.
type memKeyspace struct {
	keys map[string]domain.KeyInfo
}

func (m *memKeyspace) Ping(ctx context.Context) error { return nil }

func (m *memKeyspace) ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	var out []string
	for k := range m.keys {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memKeyspace) Describe(ctx context.Context, key string) (domain.KeyInfo, error) {
	info, ok := m.keys[key]
	if !ok {
		return domain.KeyInfo{Key: key, Type: "none"}, ports.ErrNotFound
	}
	return info, nil
}

func (m *memKeyspace) DeleteKeys(ctx context.Context, keys []string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := m.keys[k]; ok {
			delete(m.keys, k)
			n++
		}
	}
	return n, nil
}

func bar(ts int64, close float64) domain.Kline {
	return domain.Kline{Timestamp: ts, Open: close, High: close + 1, Low: close - 0.5, Close: close, Volume: 10}
}
