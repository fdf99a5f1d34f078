package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
)

// MaxBatchSize bounds batch mark operations. Oversized batches are rejected
// up front without touching any row.
const MaxBatchSize = 100

// MarkMode selects the direction of a batch mark operation.
type MarkMode string

const (
	ModeRead   MarkMode = "read"
	ModeUnread MarkMode = "unread"
)

// VisibilityStore is the slice of the repository the tracker needs.
type VisibilityStore interface {
	MarkRead(ctx context.Context, logID uuid.UUID, workCenter string, at time.Time) error
	MarkUnread(ctx context.Context, logID uuid.UUID, workCenter string) error
}

// Pair addresses one (log, work-center) visibility row.
type Pair struct {
	LogID      uuid.UUID `json:"log_id"`
	WorkCenter string    `json:"work_center"`
}

// BatchMarkResult reports the per-item breakdown of a batch mark call.
// Success is true only when every pair succeeded; partial failure still
// answers with the full breakdown.
type BatchMarkResult struct {
	Success      bool       `json:"success"`
	TotalCount   int        `json:"total_count"`
	SuccessCount int        `json:"success_count"`
	FailedCount  int        `json:"failed_count"`
	Errors       []string   `json:"errors"`
	ReadAt       *time.Time `json:"read_at,omitempty"` // shared timestamp for read batches
}

// Tracker mutates the read/unread state of visibility rows.
type Tracker struct {
	store  VisibilityStore
	logger *zap.Logger
}

// NewTracker creates a read/unread tracker.
func NewTracker(store VisibilityStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// MarkRead stamps the pair with the current time and returns it. Re-marking
// an already-read pair refreshes the timestamp; renewed acknowledgement is a
// valid operation, not a no-op.
func (t *Tracker) MarkRead(ctx context.Context, logID uuid.UUID, workCenter string) (time.Time, error) {
	if logID == uuid.Nil {
		return time.Time{}, fmt.Errorf("%w: log_id is required", ErrInvalidInput)
	}
	if workCenter == "" {
		return time.Time{}, fmt.Errorf("%w: work_center is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if err := t.store.MarkRead(ctx, logID, workCenter, now); err != nil {
		return time.Time{}, err
	}

	t.logger.Debug("visibility marked read",
		zap.String("log_id", logID.String()),
		zap.String("work_center", workCenter),
	)

	return now, nil
}

// MarkUnread clears the pair's read timestamp, whatever its prior state.
func (t *Tracker) MarkUnread(ctx context.Context, logID uuid.UUID, workCenter string) (bool, error) {
	if logID == uuid.Nil {
		return false, fmt.Errorf("%w: log_id is required", ErrInvalidInput)
	}
	if workCenter == "" {
		return false, fmt.Errorf("%w: work_center is required", ErrInvalidInput)
	}

	if err := t.store.MarkUnread(ctx, logID, workCenter); err != nil {
		return false, err
	}

	t.logger.Debug("visibility marked unread",
		zap.String("log_id", logID.String()),
		zap.String("work_center", workCenter),
	)

	return true, nil
}

// MarkBatch marks up to MaxBatchSize pairs read or unread. Every read mark
// in one call shares a single timestamp, captured once before the loop, so
// a bulk acknowledgement stays distinguishable from N manual ones. Pairs are
// processed independently; a missing pair becomes a positional error entry
// and processing continues. A storage failure aborts the remaining pairs.
func (t *Tracker) MarkBatch(ctx context.Context, pairs []Pair, mode MarkMode) (*BatchMarkResult, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidInput)
	}
	if len(pairs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d entries", ErrInvalidInput, MaxBatchSize)
	}
	if mode != ModeRead && mode != ModeUnread {
		return nil, fmt.Errorf("%w: mode must be read or unread", ErrInvalidInput)
	}

	result := &BatchMarkResult{
		TotalCount: len(pairs),
		Errors:     []string{},
	}

	// One instant for the whole batch.
	now := time.Now().UTC()
	if mode == ModeRead {
		result.ReadAt = &now
	}

	for i, p := range pairs {
		err := t.markOne(ctx, p, mode, now)
		if err == nil {
			result.SuccessCount++
			continue
		}

		if errors.Is(err, db.ErrNotFound) || errors.Is(err, ErrInvalidInput) {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("Log %d: %v", i+1, err))
			continue
		}

		return result, fmt.Errorf("mark batch aborted at item %d: %w", i+1, err)
	}

	result.Success = result.FailedCount == 0

	t.logger.Info("batch mark completed",
		zap.String("mode", string(mode)),
		zap.Int("total", result.TotalCount),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
	)

	return result, nil
}

func (t *Tracker) markOne(ctx context.Context, p Pair, mode MarkMode, at time.Time) error {
	if p.LogID == uuid.Nil {
		return fmt.Errorf("%w: log_id is required", ErrInvalidInput)
	}
	if p.WorkCenter == "" {
		return fmt.Errorf("%w: work_center is required", ErrInvalidInput)
	}

	if mode == ModeRead {
		return t.store.MarkRead(ctx, p.LogID, p.WorkCenter, at)
	}
	return t.store.MarkUnread(ctx, p.LogID, p.WorkCenter)
}
