package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

const deleteBatchSize = 500

// Store implements ports.KlineStore, ports.Keyspace and ports.DrawingStore on Redis.
//
// Each series is a sorted set zset:kline:<symbol>:<resolution> scored by bar
// timestamp with the JSON-encoded bar as member. When MirrorTTL is set every
// bar is also written to kline:<symbol>:<resolution>:<timestamp> with that TTL.
type Store struct {
	client    *redis.Client
	logger    ports.Logger
	mirrorTTL time.Duration
	maxBars   int64
	now       func() time.Time
}

// Config holds configuration for the Redis store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	MirrorTTL time.Duration // 0 disables mirrored per-bar keys
	MaxBars   int64         // 0 keeps every bar
	Logger    ports.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis store")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(client, cfg)
	if err := s.Ping(ctx); err != nil {
		client.Close()
		cfg.Logger.Error(ctx, err, "Redis store initialization failed", map[string]interface{}{"addr": addr})
		return nil, err
	}
	cfg.Logger.Info(ctx, "Redis store connected", map[string]interface{}{"addr": addr, "db": cfg.DB})
	return s, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = ports.NopLogger{}
	}
	return &Store{
		client:    client,
		logger:    logger,
		mirrorTTL: cfg.MirrorTTL,
		maxBars:   cfg.MaxBars,
		now:       time.Now,
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping failed: %w: %w", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// --- KlineStore Implementation ---

// Upsert writes bars so that each timestamp holds exactly one member.
// Every bar is validated before anything is written; the writes for the
// whole batch run in a single MULTI/EXEC.
func (s *Store) Upsert(ctx context.Context, series domain.Series, klines []domain.Kline) (int, error) {
	if err := series.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	klines = domain.DedupeAndSort(klines)
	members := make([]string, len(klines))
	for i, k := range klines {
		if err := k.Validate(); err != nil {
			return 0, err
		}
		m, err := k.Encode()
		if err != nil {
			return 0, err
		}
		members[i] = m
	}
	if len(klines) == 0 {
		return 0, nil
	}

	zkey := domain.SeriesKey(series)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range klines {
			score := strconv.FormatInt(k.Timestamp, 10)
			pipe.ZRemRangeByScore(ctx, zkey, score, score)
			pipe.ZAdd(ctx, zkey, &redis.Z{Score: float64(k.Timestamp), Member: members[i]})
			if s.mirrorTTL > 0 {
				pipe.Set(ctx, domain.KlineKey(series, k.Timestamp), members[i], s.mirrorTTL)
			}
		}
		if s.maxBars > 0 {
			pipe.ZRemRangeByRank(ctx, zkey, 0, -(s.maxBars + 1))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %s failed: %w: %w", series, ports.ErrUpdateFailed, err)
	}

	s.logger.Debug(ctx, "Klines upserted", map[string]interface{}{
		"series": series.String(),
		"count":  len(klines),
		"mirror": s.mirrorTTL > 0,
	})
	return len(klines), nil
}

// Range returns bars with from <= timestamp <= to, ascending.
func (s *Store) Range(ctx context.Context, series domain.Series, from, to int64) ([]domain.Kline, error) {
	members, err := s.client.ZRangeByScore(ctx, domain.SeriesKey(series), &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s failed: %w: %w", series, ports.ErrQueryFailed, err)
	}
	return s.decodeMembers(ctx, series, members), nil
}

// Latest returns the newest n bars in ascending order.
func (s *Store) Latest(ctx context.Context, series domain.Series, n int) ([]domain.Kline, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := s.client.ZRevRangeByScore(ctx, domain.SeriesKey(series), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(n),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("latest %s failed: %w: %w", series, ports.ErrQueryFailed, err)
	}
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	return s.decodeMembers(ctx, series, members), nil
}

// Bounds returns first/last timestamps (scores) and the member count.
func (s *Store) Bounds(ctx context.Context, series domain.Series) (int64, int64, int64, error) {
	zkey := domain.SeriesKey(series)

	var card *redis.IntCmd
	var head, tail *redis.ZSliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		card = pipe.ZCard(ctx, zkey)
		head = pipe.ZRangeWithScores(ctx, zkey, 0, 0)
		tail = pipe.ZRangeWithScores(ctx, zkey, -1, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, fmt.Errorf("bounds %s failed: %w: %w", series, ports.ErrQueryFailed, err)
	}

	count := card.Val()
	if count == 0 {
		return 0, 0, 0, nil
	}
	var first, last int64
	if zs := head.Val(); len(zs) > 0 {
		first = int64(zs[0].Score)
	}
	if zs := tail.Val(); len(zs) > 0 {
		last = int64(zs[0].Score)
	}
	return first, last, count, nil
}

// DeleteSeries removes the sorted set and every mirrored bar key.
func (s *Store) DeleteSeries(ctx context.Context, series domain.Series) (int64, error) {
	keys, err := s.ScanKeys(ctx, domain.KlineKeyPattern(series), 0)
	if err != nil {
		return 0, err
	}
	keys = append(keys, domain.SeriesKey(series))
	n, err := s.DeleteKeys(ctx, keys)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "Series deleted", map[string]interface{}{"series": series.String(), "keys": n})
	return n, nil
}

func (s *Store) decodeMembers(ctx context.Context, series domain.Series, members []string) []domain.Kline {
	out := make([]domain.Kline, 0, len(members))
	skipped := 0
	for _, m := range members {
		k, err := domain.DecodeKline(m)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, k)
	}
	if skipped > 0 {
		s.logger.Warn(ctx, "Skipped undecodable kline members", map[string]interface{}{
			"series":  series.String(),
			"skipped": skipped,
		})
	}
	return out
}

// --- Keyspace Implementation ---

// ScanKeys iterates SCAN MATCH pattern. limit <= 0 returns every match.
func (s *Store) ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q failed: %w: %w", pattern, ports.ErrQueryFailed, err)
	}
	return keys, nil
}

// Describe reports type, TTL and size of a key.
func (s *Store) Describe(ctx context.Context, key string) (domain.KeyInfo, error) {
	info := domain.KeyInfo{Key: key}

	typ, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return info, fmt.Errorf("type %q failed: %w: %w", key, ports.ErrQueryFailed, err)
	}
	info.Type = typ
	if typ == "none" {
		return info, fmt.Errorf("key %q: %w", key, ports.ErrNotFound)
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return info, fmt.Errorf("ttl %q failed: %w: %w", key, ports.ErrQueryFailed, err)
	}
	if ttl < 0 {
		ttl = -1
	}
	info.TTL = ttl

	var sizeCmd *redis.IntCmd
	switch typ {
	case "zset":
		sizeCmd = s.client.ZCard(ctx, key)
	case "hash":
		sizeCmd = s.client.HLen(ctx, key)
	case "string":
		sizeCmd = s.client.StrLen(ctx, key)
	case "list":
		sizeCmd = s.client.LLen(ctx, key)
	case "set":
		sizeCmd = s.client.SCard(ctx, key)
	}
	if sizeCmd != nil {
		size, err := sizeCmd.Result()
		if err != nil {
			return info, fmt.Errorf("size %q failed: %w: %w", key, ports.ErrQueryFailed, err)
		}
		info.Size = size
	}
	return info, nil
}

// DeleteKeys removes keys in batches and returns how many existed.
func (s *Store) DeleteKeys(ctx context.Context, keys []string) (int64, error) {
	var deleted int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("delete keys failed: %w: %w", ports.ErrDeleteFailed, err)
		}
		deleted += n
	}
	return deleted, nil
}

