package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

// --- DrawingStore Implementation ---

// SaveDrawing stores a drawing as one field of the drawings:<user>:<symbol> hash.
// A missing ID is generated and UpdatedAt is stamped on every save.
func (s *Store) SaveDrawing(ctx context.Context, d *domain.Drawing) error {
	if d == nil || d.User == "" || d.Symbol == "" {
		return fmt.Errorf("drawing user and symbol are required: %w", ports.ErrInvalidRequest)
	}
	if len(d.Payload) > 0 && !json.Valid(d.Payload) {
		return fmt.Errorf("drawing payload is not valid JSON: %w", ports.ErrInvalidRequest)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.UpdatedAt = s.now().UTC()

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal drawing %s: %w", d.ID, err)
	}
	key := domain.DrawingsKey(d.User, d.Symbol)
	if err := s.client.HSet(ctx, key, d.ID, raw).Err(); err != nil {
		return fmt.Errorf("save drawing %s failed: %w: %w", d.ID, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Drawing saved", map[string]interface{}{"key": key, "id": d.ID})
	return nil
}

// ListDrawings returns a user's drawings for a symbol ordered by UpdatedAt.
func (s *Store) ListDrawings(ctx context.Context, user, symbol string) ([]*domain.Drawing, error) {
	key := domain.DrawingsKey(user, symbol)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list drawings %s failed: %w: %w", key, ports.ErrQueryFailed, err)
	}

	out := make([]*domain.Drawing, 0, len(fields))
	for id, raw := range fields {
		var d domain.Drawing
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn(ctx, "Skipping corrupt drawing", map[string]interface{}{"key": key, "id": id, "error": err.Error()})
			continue
		}
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteDrawings removes the whole drawings hash and returns 1 if it existed.
func (s *Store) DeleteDrawings(ctx context.Context, user, symbol string) (int64, error) {
	return s.DeleteKeys(ctx, []string{domain.DrawingsKey(user, symbol)})
}
