package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

func seededKeyspace() *memKeyspace {
	keys := map[string]domain.KeyInfo{}
	for _, k := range []domain.KeyInfo{
		{Key: "zset:kline:BTCUSDT:60", Type: "zset", TTL: -1, Size: 3},
		{Key: "kline:BTCUSDT:60:3600", Type: "string", TTL: 90 * time.Second, Size: 40},
		{Key: "kline:BTCUSDT:60:7200", Type: "string", TTL: 90 * time.Second, Size: 40},
		{Key: "drawings:alice:BTCUSDT", Type: "hash", TTL: -1, Size: 2},
	} {
		keys[k.Key] = k
	}
	return &memKeyspace{keys: keys}
}

func TestKeyspaceInspect(t *testing.T) {
	svc, err := NewKeyspaceService(seededKeyspace(), &mockLogger{})
	require.NoError(t, err)

	infos, err := svc.Inspect(context.Background(), "kline:*", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "kline:BTCUSDT:60:3600", infos[0].Key)
	assert.Equal(t, "kline:BTCUSDT:60:7200", infos[1].Key)
	assert.False(t, infos[0].Persistent())

	infos, err = svc.Inspect(context.Background(), "nothing:*", 0)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestKeyspaceInspect_LimitAppliesAfterSort(t *testing.T) {
	keys := map[string]domain.KeyInfo{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("kline:BTCUSDT:60:%04d", i)
		keys[k] = domain.KeyInfo{Key: k, Type: "string", TTL: -1, Size: 40}
	}
	svc, err := NewKeyspaceService(&memKeyspace{keys: keys}, &mockLogger{})
	require.NoError(t, err)

	// Map iteration makes the scan order random.
	for run := 0; run < 5; run++ {
		infos, err := svc.Inspect(context.Background(), "kline:*", 3)
		require.NoError(t, err)
		require.Len(t, infos, 3)
		assert.Equal(t, "kline:BTCUSDT:60:0000", infos[0].Key)
		assert.Equal(t, "kline:BTCUSDT:60:0001", infos[1].Key)
		assert.Equal(t, "kline:BTCUSDT:60:0002", infos[2].Key)
	}
}

func TestKeyspaceCleanup(t *testing.T) {
	ks := seededKeyspace()
	svc, err := NewKeyspaceService(ks, &mockLogger{})
	require.NoError(t, err)

	report, err := svc.Cleanup(context.Background(), []string{"kline:BTCUSDT:*", "zset:kline:BTCUSDT:*", "kline:*"}, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Matched, 3)
	assert.Zero(t, report.Deleted)
	assert.Len(t, ks.keys, 4, "dry run deletes nothing")

	report, err = svc.Cleanup(context.Background(), []string{"kline:BTCUSDT:*", " ", "zset:kline:BTCUSDT:*"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"kline:BTCUSDT:*", "zset:kline:BTCUSDT:*"}, report.Patterns)
	assert.Equal(t, int64(3), report.Deleted)
	assert.Len(t, ks.keys, 1)
	_, ok := ks.keys["drawings:alice:BTCUSDT"]
	assert.True(t, ok)
}

func TestKeyspaceCleanup_Guards(t *testing.T) {
	ks := seededKeyspace()
	svc, err := NewKeyspaceService(ks, &mockLogger{})
	require.NoError(t, err)

	_, err = svc.Cleanup(context.Background(), []string{"*"}, false)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
	_, err = svc.Cleanup(context.Background(), []string{"", "  "}, false)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
	assert.Len(t, ks.keys, 4)

	svc.AllowAll = true
	report, err := svc.Cleanup(context.Background(), []string{"*"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Deleted)
	assert.Empty(t, ks.keys)

	_, err = NewKeyspaceService(nil, &mockLogger{})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
}
