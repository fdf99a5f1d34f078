// Package logbook implements the shift-handover log engine: ingestion with
// work-center fan-out, read/unread tracking, and incremental-sync pagination.
package logbook

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
)

// CategoryStore is the slice of the repository the fan-out builder needs.
type CategoryStore interface {
	GetCategory(ctx context.Context, code, plant string) (*db.Category, error)
}

// Fanout resolves which work centers must receive a visibility row for a
// log filed under a category.
type Fanout struct {
	categories CategoryStore
	logger     *zap.Logger
}

// NewFanout creates a fan-out builder over the given category store.
func NewFanout(categories CategoryStore, logger *zap.Logger) *Fanout {
	return &Fanout{
		categories: categories,
		logger:     logger,
	}
}

// VisibilitySet returns the category's required work centers, de-duplicated.
// The result is a snapshot: the coordinator copies it into per-log rows at
// creation time, so later category edits never touch existing logs.
// A missing category or an empty configuration yields an empty set.
func (f *Fanout) VisibilitySet(ctx context.Context, category, plant string) ([]string, error) {
	cat, err := f.categories.GetCategory(ctx, category, plant)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			f.logger.Debug("category not configured, empty visibility set",
				zap.String("category", category),
				zap.String("plant", plant),
			)
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(cat.RequiredWorkCenters))
	var result []string
	for _, wc := range cat.RequiredWorkCenters {
		if wc == "" {
			continue
		}
		if _, ok := seen[wc]; ok {
			continue
		}
		seen[wc] = struct{}{}
		result = append(result, wc)
	}

	return result, nil
}
