package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"klineKit/internal/domain"
	"klineKit/internal/history"
	"klineKit/internal/ports"
)

// Backfiller is the part of history.Backfiller the sync service needs.
type Backfiller interface {
	Backfill(ctx context.Context, req history.Request) (history.Result, error)
}

// SyncConfig holds the dependencies and bounds of a SyncService.
type SyncConfig struct {
	Backfiller  Backfiller
	Cache       ports.KlineStore
	Archive     ports.KlineStore // optional
	Logger      ports.Logger
	PageLimit   int
	MaxPages    int
	MaxLookback time.Duration
	Registerer  prometheus.Registerer // nil registers nothing
}

// TargetReport is the outcome for one series.
type TargetReport struct {
	Series   domain.Series
	Resumed  bool // cache already held bars; only the gap to now was fetched
	Pages    int
	Fetched  int
	Dropped  int // bars failing validation
	Stored   int
	Archived int
	Stop     history.StopReason
	Err      error
}

// SyncReport aggregates one SyncOnce run.
type SyncReport struct {
	Started  time.Time
	Duration time.Duration
	Targets  []TargetReport
}

// Failed counts targets that ended with an error.
func (r SyncReport) Failed() int {
	n := 0
	for _, t := range r.Targets {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Result labels the run for metrics: ok, partial or error.
func (r SyncReport) Result() string {
	switch failed := r.Failed(); {
	case failed == 0:
		return "ok"
	case failed < len(r.Targets):
		return "partial"
	default:
		return "error"
	}
}

type syncMetrics struct {
	runs *prometheus.CounterVec
	bars *prometheus.CounterVec
}

// SyncService keeps cached series up to date from a history provider.
type SyncService struct {
	backfiller  Backfiller
	cache       ports.KlineStore
	archive     ports.KlineStore
	logger      ports.Logger
	pageLimit   int
	maxPages    int
	maxLookback time.Duration
	metrics     syncMetrics
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSyncService creates a SyncService.
func NewSyncService(cfg SyncConfig) (*SyncService, error) {
	if cfg.Backfiller == nil || cfg.Cache == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for SyncService: %w", ports.ErrConfigurationError)
	}

	m := syncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinekit",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by result.",
		}, []string{"result"}),
		bars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinekit",
			Subsystem: "sync",
			Name:      "bars_total",
			Help:      "Bars written to the cache by series.",
		}, []string{"series"}),
	}
	if cfg.Registerer != nil {
		for _, c := range []prometheus.Collector{m.runs, m.bars} {
			if err := cfg.Registerer.Register(c); err != nil {
				return nil, fmt.Errorf("register sync metrics: %w", err)
			}
		}
	}

	return &SyncService{
		backfiller:  cfg.Backfiller,
		cache:       cfg.Cache,
		archive:     cfg.Archive,
		logger:      cfg.Logger,
		pageLimit:   cfg.PageLimit,
		maxPages:    cfg.MaxPages,
		maxLookback: cfg.MaxLookback,
		metrics:     m,
		now:         time.Now,
	}, nil
}

// ParseTargets parses a comma separated SYMBOL:RESOLUTION list.
func ParseTargets(raw string) ([]domain.Series, error) {
	var targets []domain.Series
	seen := make(map[domain.Series]bool)
	var errs []error
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := domain.ParseSeries(part)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[s] {
			seen[s] = true
			targets = append(targets, s)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, errors.Join(errs...))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no sync targets in %q", ports.ErrInvalidRequest, raw)
	}
	return targets, nil
}

// SyncOnce backfills every target. A failing target does not stop the others,
// and bars collected before a provider error are still stored.
func (s *SyncService) SyncOnce(ctx context.Context, targets []domain.Series) SyncReport {
	report := SyncReport{Started: s.now()}
	for _, target := range targets {
		if ctx.Err() != nil {
			report.Targets = append(report.Targets, TargetReport{Series: target, Err: fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())})
			continue
		}
		report.Targets = append(report.Targets, s.syncTarget(ctx, target))
	}
	report.Duration = s.now().Sub(report.Started)

	s.metrics.runs.WithLabelValues(report.Result()).Inc()
	s.logger.Info(ctx, "Sync run finished", map[string]interface{}{
		"targets":  len(report.Targets),
		"failed":   report.Failed(),
		"result":   report.Result(),
		"duration": report.Duration.String(),
	})
	return report
}

func (s *SyncService) syncTarget(ctx context.Context, target domain.Series) TargetReport {
	tr := TargetReport{Series: target}
	fields := map[string]interface{}{"series": target.String()}

	end := s.now()
	req := history.Request{
		Series:      target,
		End:         end,
		PageLimit:   s.pageLimit,
		MaxPages:    s.maxPages,
		MaxLookback: s.maxLookback,
	}

	_, last, count, err := s.cache.Bounds(ctx, target)
	if err != nil {
		tr.Err = err
		s.logger.Error(ctx, err, "Failed to read cached bounds", fields)
		return tr
	}
	if count > 0 {
		tr.Resumed = true
		req.MaxLookback = resumeLookback(end, last, target.Resolution, s.maxLookback)
	}

	res, bfErr := s.backfiller.Backfill(ctx, req)
	tr.Pages, tr.Stop, tr.Fetched = res.Pages, res.Stop, len(res.Klines)

	valid := make([]domain.Kline, 0, len(res.Klines))
	for _, k := range res.Klines {
		if err := k.Validate(); err != nil {
			tr.Dropped++
			s.logger.Debug(ctx, "Dropping invalid bar", fields, map[string]interface{}{"error": err.Error()})
			continue
		}
		valid = append(valid, k)
	}

	if len(valid) > 0 {
		n, err := s.cache.Upsert(ctx, target, valid)
		if err != nil {
			tr.Err = errors.Join(bfErr, err)
			s.logger.Error(ctx, err, "Failed to store bars", fields)
			return tr
		}
		tr.Stored = n
		s.metrics.bars.WithLabelValues(target.String()).Add(float64(n))

		if s.archive != nil {
			n, err := s.archive.Upsert(ctx, target, valid)
			if err != nil {
				bfErr = errors.Join(bfErr, err)
				s.logger.Error(ctx, err, "Failed to archive bars", fields)
			}
			tr.Archived = n
		}
	}
	tr.Err = bfErr

	s.logger.Info(ctx, "Target synced", fields, map[string]interface{}{
		"resumed": tr.Resumed,
		"pages":   tr.Pages,
		"stored":  tr.Stored,
		"dropped": tr.Dropped,
		"stop":    string(tr.Stop),
	})
	return tr
}

// resumeLookback reaches back to the newest cached bar so it is refreshed,
// never less than one bar and never more than limit.
func resumeLookback(end time.Time, last int64, resolution string, limit time.Duration) time.Duration {
	lookback := end.Sub(time.Unix(last, 0))
	if step, err := domain.ResolutionDuration(resolution); err == nil && lookback < step {
		lookback = step
	}
	if lookback <= 0 {
		lookback = time.Second
	}
	if limit > 0 && lookback > limit {
		lookback = limit
	}
	return lookback
}

// Schedule runs SyncOnce on a six-field cron spec until ctx is done.
// A tick that fires while the previous run is still going is skipped.
func (s *SyncService) Schedule(ctx context.Context, spec string, targets []domain.Series) error {
	cl := cronLogger{ctx: ctx, logger: s.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { s.SyncOnce(ctx, targets) }); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w: %w", spec, ports.ErrConfigurationError, err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("sync schedule already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info(ctx, "Sync scheduler started", map[string]interface{}{"spec": spec, "targets": len(targets)})
	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info(context.Background(), "Sync scheduler stopped")
	return nil
}

// cronLogger adapts ports.Logger to cron.Logger.
type cronLogger struct {
	ctx    context.Context
	logger ports.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.ctx, "cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.ctx, err, "cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
