package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

var btcHourly = domain.Series{Symbol: "BTCUSDT", Resolution: "60"}

// fakeProvider serves bars newest first, honouring end and limit.
// Each call consumes one entry of errs; a nil entry lets the call through.
type fakeProvider struct {
	mu    sync.Mutex
	bars  []domain.Kline
	errs  []error
	calls int
	fetch func(end time.Time, limit int) []domain.Kline
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchBefore(ctx context.Context, s domain.Series, end time.Time, limit int) ([]domain.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.fetch != nil {
		return f.fetch(end, limit), nil
	}
	var out []domain.Kline
	for i := len(f.bars) - 1; i >= 0 && len(out) < limit; i-- {
		if f.bars[i].Timestamp < end.Unix() {
			out = append(out, f.bars[i])
		}
	}
	return out, nil
}

func hourlyBars(n int) []domain.Kline {
	out := make([]domain.Kline, n)
	for i := range out {
		ts := int64(i+1) * 3600
		c := float64(100 + i)
		out[i] = domain.Kline{Timestamp: ts, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out
}

func newTestBackfiller(t *testing.T, p ports.HistoryProvider, retries int) *Backfiller {
	t.Helper()
	b, err := NewBackfiller(Config{
		Provider:   p,
		Logger:     ports.NopLogger{},
		MaxRetries: retries,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

func timestamps(klines []domain.Kline) []int64 {
	out := make([]int64, len(klines))
	for i, k := range klines {
		out[i] = k.Timestamp
	}
	return out
}

func TestNewBackfiller_Validation(t *testing.T) {
	_, err := NewBackfiller(Config{Logger: ports.NopLogger{}})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))

	_, err = NewBackfiller(Config{Provider: &fakeProvider{}})
	assert.Error(t, err)
}

func TestBackfill_StopReasons(t *testing.T) {
	end := time.Unix(11*3600, 0)

	tests := []struct {
		name      string
		req       Request
		wantStop  StopReason
		wantPages int
		wantTS    []int64
	}{
		{
			name:      "exhausted",
			req:       Request{Series: btcHourly, End: end, PageLimit: 3, MaxPages: 50, MaxLookback: 1000 * time.Hour},
			wantStop:  StopExhausted,
			wantPages: 5,
			wantTS:    timestamps(hourlyBars(10)),
		},
		{
			name:      "max pages",
			req:       Request{Series: btcHourly, End: end, PageLimit: 3, MaxPages: 2, MaxLookback: 1000 * time.Hour},
			wantStop:  StopMaxPages,
			wantPages: 2,
			wantTS:    []int64{5 * 3600, 6 * 3600, 7 * 3600, 8 * 3600, 9 * 3600, 10 * 3600},
		},
		{
			name:      "lookback",
			req:       Request{Series: btcHourly, End: end, PageLimit: 3, MaxPages: 50, MaxLookback: 4 * time.Hour},
			wantStop:  StopLookback,
			wantPages: 2,
			wantTS:    []int64{7 * 3600, 8 * 3600, 9 * 3600, 10 * 3600},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackfiller(t, &fakeProvider{bars: hourlyBars(10)}, 0)
			res, err := b.Backfill(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStop, res.Stop)
			assert.Equal(t, tt.wantPages, res.Pages)
			assert.Equal(t, tt.wantTS, timestamps(res.Klines))
		})
	}
}

func TestBackfill_StalledProvider(t *testing.T) {
	bars := hourlyBars(3)
	p := &fakeProvider{fetch: func(end time.Time, limit int) []domain.Kline {
		// Ignores the cursor and keeps returning the same page.
		return []domain.Kline{bars[2], bars[1], bars[0]}
	}}
	b := newTestBackfiller(t, p, 0)

	res, err := b.Backfill(context.Background(), Request{Series: btcHourly, End: time.Unix(4*3600, 0), MaxLookback: 100 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, StopStalled, res.Stop)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, timestamps(bars), timestamps(res.Klines))
}

func TestBackfill_DefaultBoundsTerminate(t *testing.T) {
	// An endless provider: always one bar just before the cursor.
	p := &fakeProvider{fetch: func(end time.Time, limit int) []domain.Kline {
		ts := end.Unix() - 3600
		return []domain.Kline{{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1}}
	}}
	b := newTestBackfiller(t, p, 0)

	res, err := b.Backfill(context.Background(), Request{Series: btcHourly, End: time.Unix(1_700_000_000, 0), PageLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, StopMaxPages, res.Stop)
	assert.Equal(t, DefaultMaxPages, res.Pages)
	assert.Len(t, res.Klines, DefaultMaxPages)
}

func TestBackfill_RetriesRateLimit(t *testing.T) {
	rl := fmt.Errorf("FetchBefore failed: %w", ports.ErrRateLimited)
	p := &fakeProvider{bars: hourlyBars(4), errs: []error{rl, rl}}
	b := newTestBackfiller(t, p, 3)

	res, err := b.Backfill(context.Background(), Request{Series: btcHourly, End: time.Unix(5*3600, 0), PageLimit: 10, MaxLookback: 100 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, res.Stop)
	assert.Len(t, res.Klines, 4)
	assert.Equal(t, 4, p.calls, "two throttled calls, one full page, one empty page")
}

func TestBackfill_GivesUpAfterMaxRetries(t *testing.T) {
	rl := fmt.Errorf("FetchBefore failed: %w", ports.ErrRateLimited)
	p := &fakeProvider{bars: hourlyBars(4), errs: []error{rl, rl, rl, rl}}
	b := newTestBackfiller(t, p, 2)

	res, err := b.Backfill(context.Background(), Request{Series: btcHourly, End: time.Unix(5*3600, 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
	assert.Equal(t, StopError, res.Stop)
	assert.Equal(t, 3, p.calls)
}

func TestBackfill_ReturnsPartialOnError(t *testing.T) {
	boom := errors.New("boom")
	p := &fakeProvider{bars: hourlyBars(10), errs: []error{nil, boom}}
	b := newTestBackfiller(t, p, 5)

	res, err := b.Backfill(context.Background(), Request{Series: btcHourly, End: time.Unix(11*3600, 0), PageLimit: 4, MaxLookback: 100 * time.Hour})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StopError, res.Stop)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, []int64{7 * 3600, 8 * 3600, 9 * 3600, 10 * 3600}, timestamps(res.Klines))
	assert.Equal(t, 2, p.calls, "non rate-limit errors are not retried")
}

func TestBackfill_ContextCanceledDuringBackoff(t *testing.T) {
	rl := fmt.Errorf("FetchBefore failed: %w", ports.ErrRateLimited)
	p := &fakeProvider{errs: []error{rl, rl, rl}}
	b, err := NewBackfiller(Config{Provider: p, Logger: ports.NopLogger{}, BackoffMin: time.Hour, BackoffMax: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = b.Backfill(ctx, Request{Series: btcHourly, End: time.Unix(5*3600, 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBackfill_InvalidSeries(t *testing.T) {
	b := newTestBackfiller(t, &fakeProvider{}, 0)
	_, err := b.Backfill(context.Background(), Request{Series: domain.Series{Symbol: "BTCUSDT"}})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}
