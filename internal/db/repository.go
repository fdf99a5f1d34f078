package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a referenced log, category, or
// (log, work-center) visibility pair does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for logs, visibility rows,
// and category configuration.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetCategory retrieves the category configuration for (code, plant).
func (r *Repository) GetCategory(ctx context.Context, code, plant string) (*Category, error) {
	query := `
		SELECT
			id, code, plant, notify_enabled, recipients,
			chat_webhook_url, chat_webhook_active, required_work_centers,
			updated_at
		FROM categories
		WHERE code = $1 AND plant = $2
	`

	var cat Category
	err := r.db.Pool().QueryRow(ctx, query, code, plant).Scan(
		&cat.ID,
		&cat.Code,
		&cat.Plant,
		&cat.NotifyEnabled,
		&cat.Recipients,
		&cat.ChatWebhookURL,
		&cat.ChatWebhookActive,
		&cat.RequiredWorkCenters,
		&cat.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category %s/%s: %w", plant, code, ErrNotFound)
	}

	if err != nil {
		r.logger.Error("failed to get category",
			zap.Error(err),
			zap.String("category", code),
			zap.String("plant", plant),
		)
		return nil, fmt.Errorf("query category: %w", err)
	}

	return &cat, nil
}

// CreateLogWithVisibility inserts the log row and one visibility row per
// destination work center in a single transaction. Either everything is
// committed or nothing is; a log without its fan-out rows must never exist.
func (r *Repository) CreateLogWithVisibility(ctx context.Context, entry *LogEntry, destinations []string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertLog := `
		INSERT INTO logs (
			id, plant, work_center, category, author, subject, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, insertLog,
		entry.ID,
		entry.Plant,
		entry.WorkCenter,
		entry.Category,
		entry.Author,
		entry.Subject,
		entry.Message,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}

	insertVisibility := `
		INSERT INTO log_visibility (log_id, work_center, updated_at)
		VALUES ($1, $2, $3)
	`

	for _, wc := range destinations {
		if _, err := tx.Exec(ctx, insertVisibility, entry.ID, wc, entry.CreatedAt); err != nil {
			return fmt.Errorf("insert visibility for %s: %w", wc, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("log created",
		zap.String("log_id", entry.ID.String()),
		zap.String("plant", entry.Plant),
		zap.String("category", entry.Category),
		zap.Int("visibility_count", len(destinations)),
	)

	return nil
}

// GetLog retrieves a single log entry by ID.
func (r *Repository) GetLog(ctx context.Context, id uuid.UUID) (*LogEntry, error) {
	query := `
		SELECT id, plant, work_center, category, author, subject, message, created_at
		FROM logs
		WHERE id = $1
	`

	var entry LogEntry
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.Plant,
		&entry.WorkCenter,
		&entry.Category,
		&entry.Author,
		&entry.Subject,
		&entry.Message,
		&entry.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("log %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}

	return &entry, nil
}

// ListVisibility returns all visibility rows for a log.
func (r *Repository) ListVisibility(ctx context.Context, logID uuid.UUID) ([]*Visibility, error) {
	query := `
		SELECT log_id, work_center, read_at, updated_at
		FROM log_visibility
		WHERE log_id = $1
		ORDER BY work_center
	`

	rows, err := r.db.Pool().Query(ctx, query, logID)
	if err != nil {
		return nil, fmt.Errorf("query visibility: %w", err)
	}
	defer rows.Close()

	var result []*Visibility
	for rows.Next() {
		var v Visibility
		if err := rows.Scan(&v.LogID, &v.WorkCenter, &v.ReadAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan visibility: %w", err)
		}
		result = append(result, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// MarkRead stamps the (log, work-center) visibility row with the given read
// timestamp. Re-marking an already-read row overwrites the timestamp; a bulk
// acknowledgement passes the same instant for every pair in the batch.
func (r *Repository) MarkRead(ctx context.Context, logID uuid.UUID, workCenter string, at time.Time) error {
	query := `
		UPDATE log_visibility
		SET read_at = $3, updated_at = $3
		WHERE log_id = $1 AND work_center = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, logID, workCenter, at)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("visibility %s/%s: %w", logID, workCenter, ErrNotFound)
	}

	return nil
}

// MarkUnread clears the read timestamp of the (log, work-center) visibility
// row, regardless of its prior state.
func (r *Repository) MarkUnread(ctx context.Context, logID uuid.UUID, workCenter string) error {
	query := `
		UPDATE log_visibility
		SET read_at = NULL, updated_at = NOW()
		WHERE log_id = $1 AND work_center = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, logID, workCenter)
	if err != nil {
		return fmt.Errorf("mark unread: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("visibility %s/%s: %w", logID, workCenter, ErrNotFound)
	}

	return nil
}

// LogFilter narrows the paginated listing and the aggregate stats.
// WorkCenter applies to the log's originating work center, its destination
// visibility rows, or both, depending on the include flags.
type LogFilter struct {
	Plant         string
	WorkCenter    string
	Category      string
	IncludeOrigin bool
	IncludeDest   bool
	Since         *time.Time
}

// buildConds renders the shared WHERE clause over logs l, appending
// positional args to the given slice.
func (f LogFilter) buildConds(args []any) ([]string, []any) {
	var conds []string

	if f.Plant != "" {
		args = append(args, f.Plant)
		conds = append(conds, fmt.Sprintf("l.plant = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("l.category = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		conds = append(conds, fmt.Sprintf("l.created_at > $%d", len(args)))
	}

	if f.WorkCenter != "" {
		origin := f.IncludeOrigin
		dest := f.IncludeDest
		if !origin && !dest {
			// A work center with both flags off matches nothing useful;
			// fall back to origin, the pre-fan-out behavior.
			origin = true
		}

		args = append(args, f.WorkCenter)
		n := len(args)
		originCond := fmt.Sprintf("l.work_center = $%d", n)
		destCond := fmt.Sprintf(
			"EXISTS (SELECT 1 FROM log_visibility d WHERE d.log_id = l.id AND d.work_center = $%d)", n)

		switch {
		case origin && dest:
			conds = append(conds, "("+originCond+" OR "+destCond+")")
		case dest:
			conds = append(conds, destCond)
		default:
			conds = append(conds, originCond)
		}
	}

	return conds, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

// ListLogs returns one page of logs matching the filter, newest first.
func (r *Repository) ListLogs(ctx context.Context, filter LogFilter, limit, offset int) ([]*LogEntry, error) {
	conds, args := filter.buildConds(nil)

	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT l.id, l.plant, l.work_center, l.category, l.author, l.subject, l.message, l.created_at
		FROM logs l
		%s
		ORDER BY l.created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause(conds), limitPos, offsetPos)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.Plant,
			&entry.WorkCenter,
			&entry.Category,
			&entry.Author,
			&entry.Subject,
			&entry.Message,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// CountLogs returns the total number of logs matching the filter.
func (r *Repository) CountLogs(ctx context.Context, filter LogFilter) (int, error) {
	conds, args := filter.buildConds(nil)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM logs l %s`, whereClause(conds))

	var total int
	if err := r.db.Pool().QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}

	return total, nil
}

// Stats aggregates read/unread counts over the visibility rows of the
// filtered logs, and the latest change timestamp across both log creation
// and read-state toggles. When the filter names a destination work center,
// only that work center's visibility rows are counted.
func (r *Repository) Stats(ctx context.Context, filter LogFilter) (*VisibilityStats, error) {
	conds, args := filter.buildConds(nil)

	join := "LEFT JOIN log_visibility v ON v.log_id = l.id"
	if filter.WorkCenter != "" && filter.IncludeDest {
		args = append(args, filter.WorkCenter)
		join = fmt.Sprintf("%s AND v.work_center = $%d", join, len(args))
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(v.log_id) FILTER (WHERE v.read_at IS NOT NULL),
			COUNT(v.log_id) FILTER (WHERE v.log_id IS NOT NULL AND v.read_at IS NULL),
			MAX(GREATEST(l.created_at, COALESCE(v.updated_at, l.created_at)))
		FROM logs l
		%s
		%s
	`, join, whereClause(conds))

	var stats VisibilityStats
	err := r.db.Pool().QueryRow(ctx, query, args...).Scan(
		&stats.ReadCount,
		&stats.UnreadCount,
		&stats.LastChange,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	return &stats, nil
}
