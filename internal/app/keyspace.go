package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

// CleanupReport lists what a cleanup matched and removed.
type CleanupReport struct {
	Patterns []string
	Matched  []string // sorted, unique
	Deleted  int64
	DryRun   bool
}

// KeyspaceService inspects and prunes keys in the key-value store.
type KeyspaceService struct {
	keyspace ports.Keyspace
	logger   ports.Logger
	// AllowAll permits the bare "*" pattern in Cleanup.
	AllowAll bool
}

// NewKeyspaceService creates a KeyspaceService.
func NewKeyspaceService(keyspace ports.Keyspace, logger ports.Logger) (*KeyspaceService, error) {
	if keyspace == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for KeyspaceService: %w", ports.ErrConfigurationError)
	}
	return &KeyspaceService{keyspace: keyspace, logger: logger}, nil
}

// Inspect describes the lexicographically first limit keys matching pattern.
// Every match is scanned before truncating. Keys that vanish between SCAN
// and Describe are left out.
func (s *KeyspaceService) Inspect(ctx context.Context, pattern string, limit int) ([]domain.KeyInfo, error) {
	keys, err := s.keyspace.ScanKeys(ctx, pattern, 0)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	keys = compactSorted(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	infos := make([]domain.KeyInfo, 0, len(keys))
	for _, key := range keys {
		info, err := s.keyspace.Describe(ctx, key)
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Cleanup deletes every key matching any of patterns. With dryRun it only
// reports the matches. The bare pattern "*" is refused unless AllowAll is set.
func (s *KeyspaceService) Cleanup(ctx context.Context, patterns []string, dryRun bool) (CleanupReport, error) {
	report := CleanupReport{DryRun: dryRun}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Trim(p, "*") == "" && !s.AllowAll {
			return report, fmt.Errorf("%w: pattern %q matches every key; pass the all flag to allow it", ports.ErrInvalidRequest, p)
		}
		report.Patterns = append(report.Patterns, p)
	}
	if len(report.Patterns) == 0 {
		return report, fmt.Errorf("%w: at least one pattern is required", ports.ErrInvalidRequest)
	}

	seen := make(map[string]struct{})
	for _, p := range report.Patterns {
		keys, err := s.keyspace.ScanKeys(ctx, p, 0)
		if err != nil {
			return report, err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	report.Matched = make([]string, 0, len(seen))
	for k := range seen {
		report.Matched = append(report.Matched, k)
	}
	sort.Strings(report.Matched)

	fields := map[string]interface{}{
		"patterns": strings.Join(report.Patterns, ","),
		"matched":  len(report.Matched),
		"dryRun":   dryRun,
	}
	if dryRun || len(report.Matched) == 0 {
		s.logger.Info(ctx, "Cleanup finished without deleting", fields)
		return report, nil
	}

	n, err := s.keyspace.DeleteKeys(ctx, report.Matched)
	report.Deleted = n
	if err != nil {
		return report, err
	}
	s.logger.Info(ctx, "Cleanup deleted keys", fields, map[string]interface{}{"deleted": n})
	return report, nil
}

// compactSorted drops adjacent duplicates, which SCAN may return.
func compactSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}
