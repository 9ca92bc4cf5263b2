package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

var btcHourly = domain.Series{Symbol: "BTCUSDT", Resolution: "60"}

func setupStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, cfg)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func bar(ts int64, close float64) domain.Kline {
	return domain.Kline{Timestamp: ts, Open: close, High: close + 1, Low: close - 0.5, Close: close, Volume: 10}
}

func TestNew_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{Addr: addr, Logger: ports.NopLogger{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrStoreUnavailable))

	_, err = New(context.Background(), Config{Addr: addr})
	assert.Error(t, err, "logger is required")
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s, mr := setupStore(t, Config{})
	ctx := context.Background()

	batch := []domain.Kline{bar(3600, 100), bar(7200, 101), bar(10800, 102)}
	n, err := s.Upsert(ctx, btcHourly, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Upsert(ctx, btcHourly, batch)
	require.NoError(t, err)

	// Revised close for an existing timestamp replaces the member.
	_, err = s.Upsert(ctx, btcHourly, []domain.Kline{bar(7200, 150)})
	require.NoError(t, err)

	members, err := mr.ZMembers(domain.SeriesKey(btcHourly))
	require.NoError(t, err)
	assert.Len(t, members, 3)

	got, err := s.Range(ctx, btcHourly, 0, 1<<40)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 150.0, got[1].Close)
	assert.False(t, mr.Exists(domain.KlineKey(btcHourly, 3600)), "mirror keys are off by default")
}

func TestStore_UpsertRejectsInvalidBatch(t *testing.T) {
	s, mr := setupStore(t, Config{})
	ctx := context.Background()

	bad := bar(7200, 100)
	bad.Low = 200
	_, err := s.Upsert(ctx, btcHourly, []domain.Kline{bar(3600, 100), bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrInvalidKline))
	assert.False(t, mr.Exists(domain.SeriesKey(btcHourly)))

	_, err = s.Upsert(ctx, domain.Series{Symbol: "BTCUSDT", Resolution: "7x"}, []domain.Kline{bar(1, 1)})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	n, err := s.Upsert(ctx, btcHourly, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_MirrorKeysAndTrim(t *testing.T) {
	s, mr := setupStore(t, Config{MirrorTTL: time.Hour, MaxBars: 2})
	ctx := context.Background()

	_, err := s.Upsert(ctx, btcHourly, []domain.Kline{bar(3600, 1), bar(7200, 2), bar(10800, 3)})
	require.NoError(t, err)

	key := domain.KlineKey(btcHourly, 10800)
	require.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
	raw, err := mr.Get(key)
	require.NoError(t, err)
	decoded, err := domain.DecodeKline(raw)
	require.NoError(t, err)
	assert.Equal(t, 3.0, decoded.Close)

	first, last, count, err := s.Bounds(ctx, btcHourly)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), first, "oldest bar trimmed")
	assert.Equal(t, int64(10800), last)
	assert.Equal(t, int64(2), count)
}

func TestStore_LatestAndBounds(t *testing.T) {
	s, _ := setupStore(t, Config{})
	ctx := context.Background()

	var klines []domain.Kline
	for i := int64(10); i >= 1; i-- {
		klines = append(klines, bar(i*60, float64(i)))
	}
	_, err := s.Upsert(ctx, domain.Series{Symbol: "ETHUSDT", Resolution: "1"}, klines)
	require.NoError(t, err)

	latest, err := s.Latest(ctx, domain.Series{Symbol: "ETHUSDT", Resolution: "1"}, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, []int64{480, 540, 600}, []int64{latest[0].Timestamp, latest[1].Timestamp, latest[2].Timestamp})

	first, last, count, err := s.Bounds(ctx, btcHourly)
	require.NoError(t, err)
	assert.Zero(t, first)
	assert.Zero(t, last)
	assert.Zero(t, count)
}

func TestStore_RangeSkipsCorruptMembers(t *testing.T) {
	s, mr := setupStore(t, Config{})
	ctx := context.Background()

	_, err := s.Upsert(ctx, btcHourly, []domain.Kline{bar(3600, 1)})
	require.NoError(t, err)
	_, err = mr.ZAdd(domain.SeriesKey(btcHourly), 7200, "not-json")
	require.NoError(t, err)

	got, err := s.Range(ctx, btcHourly, 0, 10000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3600), got[0].Timestamp)
}

func TestStore_DeleteSeries(t *testing.T) {
	s, mr := setupStore(t, Config{MirrorTTL: time.Minute})
	ctx := context.Background()
	eth := domain.Series{Symbol: "ETHUSDT", Resolution: "60"}

	_, err := s.Upsert(ctx, btcHourly, []domain.Kline{bar(3600, 1), bar(7200, 2)})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, eth, []domain.Kline{bar(3600, 1)})
	require.NoError(t, err)

	n, err := s.DeleteSeries(ctx, btcHourly)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "zset plus two mirror keys")

	assert.False(t, mr.Exists(domain.SeriesKey(btcHourly)))
	assert.True(t, mr.Exists(domain.SeriesKey(eth)))
	assert.True(t, mr.Exists(domain.KlineKey(eth, 3600)))
}

func TestStore_ScanAndDescribe(t *testing.T) {
	s, mr := setupStore(t, Config{})
	ctx := context.Background()

	_, err := s.Upsert(ctx, btcHourly, []domain.Kline{bar(3600, 1), bar(7200, 2)})
	require.NoError(t, err)
	require.NoError(t, mr.Set("kline:BTCUSDT:60:3600", "abc"))
	mr.SetTTL("kline:BTCUSDT:60:3600", 90*time.Second)
	mr.HSet("drawings:alice:BTCUSDT", "d1", "{}")

	all, err := s.ScanKeys(ctx, "*", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zset:kline:BTCUSDT:60", "kline:BTCUSDT:60:3600", "drawings:alice:BTCUSDT"}, all)

	limited, err := s.ScanKeys(ctx, "*", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	info, err := s.Describe(ctx, "zset:kline:BTCUSDT:60")
	require.NoError(t, err)
	assert.Equal(t, "zset", info.Type)
	assert.Equal(t, int64(2), info.Size)
	assert.True(t, info.Persistent())

	info, err = s.Describe(ctx, "kline:BTCUSDT:60:3600")
	require.NoError(t, err)
	assert.Equal(t, "string", info.Type)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, 90*time.Second, info.TTL)

	info, err = s.Describe(ctx, "drawings:alice:BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "hash", info.Type)
	assert.Equal(t, int64(1), info.Size)

	_, err = s.Describe(ctx, "missing")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestStore_Drawings(t *testing.T) {
	s, _ := setupStore(t, Config{})
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	first := &domain.Drawing{User: "alice", Symbol: "BTCUSDT", Payload: json.RawMessage(`{"type":"line"}`)}
	require.NoError(t, s.SaveDrawing(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, clock, first.UpdatedAt)

	clock = clock.Add(time.Hour)
	second := &domain.Drawing{User: "alice", Symbol: "BTCUSDT", Payload: json.RawMessage(`{"type":"box"}`),
		UpdatedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.SaveDrawing(ctx, second))
	assert.Equal(t, clock, second.UpdatedAt, "caller timestamps are overwritten")

	err := s.SaveDrawing(ctx, &domain.Drawing{User: "alice", Symbol: "BTCUSDT", Payload: json.RawMessage(`{`)})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
	err = s.SaveDrawing(ctx, &domain.Drawing{Symbol: "BTCUSDT"})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	list, err := s.ListDrawings(ctx, "alice", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	// Editing the older drawing moves it to the end.
	clock = clock.Add(time.Hour)
	first.Payload = json.RawMessage(`{"type":"ray"}`)
	require.NoError(t, s.SaveDrawing(ctx, first))
	assert.Equal(t, clock, first.UpdatedAt)

	list, err = s.ListDrawings(ctx, "alice", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.JSONEq(t, `{"type":"ray"}`, string(list[1].Payload))

	n, err := s.DeleteDrawings(ctx, "alice", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err = s.ListDrawings(ctx, "alice", "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, list)
}
