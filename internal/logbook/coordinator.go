package logbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
	"github.com/mbeckers/shiftlog/internal/notify"
)

// ErrInvalidInput marks validation failures. They are synchronous and happen
// before any persistence.
var ErrInvalidInput = errors.New("invalid input")

// LogStore is the slice of the repository the coordinator needs.
type LogStore interface {
	CreateLogWithVisibility(ctx context.Context, entry *db.LogEntry, destinations []string) error
}

// RecipientResolver resolves a category's notification destinations.
type RecipientResolver interface {
	Resolve(ctx context.Context, category, plant string) (notify.Recipients, error)
}

// Dispatch is the post-commit notification hook.
type Dispatch interface {
	DispatchAsync(rec notify.Recipients, c notify.Content)
}

// LogInput is a log creation request. Creation timestamps are always
// server-assigned; there is no field for a caller-supplied one.
type LogInput struct {
	Plant      string `json:"plant"`
	WorkCenter string `json:"work_center"`
	Category   string `json:"category"`
	Author     string `json:"author"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
}

// LogResult is returned for each created log.
type LogResult struct {
	LogID           uuid.UUID `json:"log_id"`
	VisibilityCount int       `json:"visibility_count"`
}

// BatchResult reports a per-item breakdown for bulk creation.
type BatchResult struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Errors  []string    `json:"errors"`
	Logs    []LogResult `json:"logs"`
}

// Coordinator orchestrates log creation: validation, the transactional
// log + fan-out write, and the decoupled notification dispatch.
type Coordinator struct {
	logs       LogStore
	fanout     *Fanout
	resolver   RecipientResolver
	dispatcher Dispatch
	logger     *zap.Logger
}

// NewCoordinator creates a log ingestion coordinator.
func NewCoordinator(logs LogStore, fanout *Fanout, resolver RecipientResolver, dispatcher Dispatch, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		logs:       logs,
		fanout:     fanout,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func validateInput(in LogInput) error {
	switch {
	case in.Plant == "":
		return fmt.Errorf("%w: plant is required", ErrInvalidInput)
	case in.WorkCenter == "":
		return fmt.Errorf("%w: work_center is required", ErrInvalidInput)
	case in.Category == "":
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	case in.Message == "":
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	return nil
}

// CreateLog persists one log entry together with its visibility rows, then
// triggers best-effort notification dispatch. The dispatch runs after the
// transaction commits and can never fail the creation.
func (c *Coordinator) CreateLog(ctx context.Context, in LogInput) (*LogResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	destinations, err := c.fanout.VisibilitySet(ctx, in.Category, in.Plant)
	if err != nil {
		return nil, fmt.Errorf("resolve visibility set: %w", err)
	}

	entry := &db.LogEntry{
		ID:         uuid.New(),
		Plant:      in.Plant,
		WorkCenter: in.WorkCenter,
		Category:   in.Category,
		Author:     in.Author,
		Subject:    in.Subject,
		Message:    in.Message,
	}

	if err := c.logs.CreateLogWithVisibility(ctx, entry, destinations); err != nil {
		return nil, fmt.Errorf("persist log: %w", err)
	}

	c.notifyAfterCommit(ctx, entry)

	return &LogResult{
		LogID:           entry.ID,
		VisibilityCount: len(destinations),
	}, nil
}

// notifyAfterCommit resolves recipients and hands them to the dispatcher.
// The log is already durable at this point; every failure here is logged
// and swallowed.
func (c *Coordinator) notifyAfterCommit(ctx context.Context, entry *db.LogEntry) {
	rec, err := c.resolver.Resolve(ctx, entry.Category, entry.Plant)
	if err != nil {
		c.logger.Warn("recipient resolution failed, skipping dispatch",
			zap.Error(err),
			zap.String("log_id", entry.ID.String()),
			zap.String("category", entry.Category),
		)
		return
	}

	if rec.Empty() {
		return
	}

	c.dispatcher.DispatchAsync(rec, notify.Content{
		LogID:    entry.ID.String(),
		Plant:    entry.Plant,
		Category: entry.Category,
		Subject:  entry.Subject,
		Body:     entry.Message,
	})
}

// CreateBatch processes each input independently through CreateLog. One
// item's validation failure never aborts its siblings; a storage failure
// does, and is returned as the error alongside the partial result.
func (c *Coordinator) CreateBatch(ctx context.Context, inputs []LogInput) (*BatchResult, error) {
	result := &BatchResult{
		Errors: []string{},
		Logs:   []LogResult{},
	}

	for i, in := range inputs {
		res, err := c.CreateLog(ctx, in)
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				result.Errors = append(result.Errors, fmt.Sprintf("Log %d: %v", i+1, err))
				continue
			}
			result.Success = false
			return result, err
		}
		result.Logs = append(result.Logs, *res)
	}

	result.Count = len(result.Logs)
	result.Success = len(result.Errors) == 0

	return result, nil
}
