package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
	"github.com/mbeckers/shiftlog/internal/logbook"
	"github.com/mbeckers/shiftlog/internal/metrics"
	"github.com/mbeckers/shiftlog/internal/notify"
	"github.com/mbeckers/shiftlog/internal/redis"
)

// LogCreator is the ingestion surface of the logbook engine.
type LogCreator interface {
	CreateLog(ctx context.Context, in logbook.LogInput) (*logbook.LogResult, error)
	CreateBatch(ctx context.Context, inputs []logbook.LogInput) (*logbook.BatchResult, error)
}

// Marker is the read/unread tracking surface.
type Marker interface {
	MarkRead(ctx context.Context, logID uuid.UUID, workCenter string) (time.Time, error)
	MarkUnread(ctx context.Context, logID uuid.UUID, workCenter string) (bool, error)
	MarkBatch(ctx context.Context, pairs []logbook.Pair, mode logbook.MarkMode) (*logbook.BatchMarkResult, error)
}

// LogPager serves the paginated, incrementally-syncable listing.
type LogPager interface {
	GetPage(ctx context.Context, f logbook.PageFilter, page, pageSize int) (*logbook.Page, error)
}

// MailResolver exposes category recipient lookups.
type MailResolver interface {
	MailRecipients(ctx context.Context, category, plant string) ([]string, error)
}

// Dispatcher triggers synchronous notification delivery for manual re-sends.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec notify.Recipients, c notify.Content) *notify.Outcome
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger      *zap.Logger
	logs        LogCreator
	tracker     Marker
	pager       LogPager
	resolver    MailResolver
	dispatcher  Dispatcher
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, logs LogCreator, tracker Marker, pager LogPager, resolver MailResolver, dispatcher Dispatcher) *Handler {
	return &Handler{
		logger:     logger,
		logs:       logs,
		tracker:    tracker,
		pager:      pager,
		resolver:   resolver,
		dispatcher: dispatcher,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotent log creation.
func NewHandlerWithIdempotency(logger *zap.Logger, logs LogCreator, tracker Marker, pager LogPager, resolver MailResolver, dispatcher Dispatcher, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, logs, tracker, pager, resolver, dispatcher)
	h.idempotency = idempotency
	return h
}

// Routes mounts all handler routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/logs", h.CreateLog)
	r.Post("/logs/batch", h.CreateLogBatch)
	r.Get("/logs", h.ListLogs)
	r.Post("/logs/read/batch", h.BatchMarkRead)
	r.Post("/logs/unread/batch", h.BatchMarkUnread)
	r.Post("/logs/{id}/read", h.MarkRead)
	r.Post("/logs/{id}/unread", h.MarkUnread)
	r.Get("/categories/{category}/recipients", h.GetMailRecipients)
	r.Post("/categories/{category}/send", h.SendMailByCategory)
}

// CreateLog handles POST /v1/logs.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req logbook.LogInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil && req.Plant != "" {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.Plant, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"log_id":           cached.LogID,
				"visibility_count": cached.VisibilityCount,
			})
			return
		}
	}

	result, err := h.logs.CreateLog(ctx, req)
	if err != nil {
		if errors.Is(err, logbook.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", err.Error())
			return
		}
		h.logger.Error("failed to create log",
			zap.Error(err),
			zap.String("plant", req.Plant),
			zap.String("category", req.Category),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create log entry", "")
		return
	}

	metrics.RecordLogCreated(req.Plant, req.Category, result.VisibilityCount)

	if idempotencyKey != "" && h.idempotency != nil && req.Plant != "" {
		stored := &redis.IdempotencyResult{
			LogID:           result.LogID.String(),
			VisibilityCount: result.VisibilityCount,
			StatusCode:      http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.Plant, idempotencyKey, stored); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(result)
}

// CreateLogBatch handles POST /v1/logs/batch.
// Items are processed independently; the response reports the per-item
// breakdown with HTTP 200 even when some items failed validation.
func (h *Handler) CreateLogBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Entries []logbook.LogInput `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if len(req.Entries) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty batch", "entries must contain at least one log")
		return
	}

	result, err := h.logs.CreateBatch(ctx, req.Entries)
	if err != nil {
		h.logger.Error("batch creation aborted", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Batch creation aborted", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

type markRequest struct {
	WorkCenter string `json:"work_center"`
}

// MarkRead handles POST /v1/logs/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	logID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid log ID", "ID must be a valid UUID")
		return
	}

	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	readAt, err := h.tracker.MarkRead(ctx, logID, req.WorkCenter)
	if err != nil {
		h.writeMarkError(w, err, idStr, req.WorkCenter)
		metrics.RecordMark("read", "error")
		return
	}

	metrics.RecordMark("read", "ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"log_id":      idStr,
		"work_center": req.WorkCenter,
		"read_at":     readAt,
	})
}

// MarkUnread handles POST /v1/logs/{id}/unread.
func (h *Handler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	logID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid log ID", "ID must be a valid UUID")
		return
	}

	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ok, err := h.tracker.MarkUnread(ctx, logID, req.WorkCenter)
	if err != nil {
		h.writeMarkError(w, err, idStr, req.WorkCenter)
		metrics.RecordMark("unread", "error")
		return
	}

	metrics.RecordMark("unread", "ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"log_id":      idStr,
		"work_center": req.WorkCenter,
		"unread":      ok,
	})
}

func (h *Handler) writeMarkError(w http.ResponseWriter, err error, logID, workCenter string) {
	switch {
	case errors.Is(err, logbook.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Visibility record not found",
			"no visibility record for log "+logID+" and work center "+workCenter)
	default:
		h.logger.Error("failed to update read state",
			zap.Error(err),
			zap.String("log_id", logID),
			zap.String("work_center", workCenter),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update read state", "")
	}
}

type batchMarkRequest struct {
	Pairs []logbook.Pair `json:"pairs"`
}

// BatchMarkRead handles POST /v1/logs/read/batch.
func (h *Handler) BatchMarkRead(w http.ResponseWriter, r *http.Request) {
	h.batchMark(w, r, logbook.ModeRead)
}

// BatchMarkUnread handles POST /v1/logs/unread/batch.
func (h *Handler) BatchMarkUnread(w http.ResponseWriter, r *http.Request) {
	h.batchMark(w, r, logbook.ModeUnread)
}

// batchMark answers 200 even for partial failure; callers must inspect the
// body's success flag and error list, not just the status code.
func (h *Handler) batchMark(w http.ResponseWriter, r *http.Request, mode logbook.MarkMode) {
	ctx := r.Context()

	var req batchMarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := h.tracker.MarkBatch(ctx, req.Pairs, mode)
	if err != nil {
		if errors.Is(err, logbook.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid batch", err.Error())
			return
		}
		h.logger.Error("batch mark aborted",
			zap.Error(err),
			zap.String("mode", string(mode)),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Batch mark aborted", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// ListLogs handles GET /v1/logs with filter, pagination, and incremental
// sync query parameters.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := logbook.PageFilter{
		Plant:         q.Get("plant"),
		WorkCenter:    q.Get("work_center"),
		Category:      q.Get("category"),
		IncludeOrigin: parseBoolDefault(q.Get("include_orig_work_center"), true),
		IncludeDest:   parseBoolDefault(q.Get("include_dest_work_center"), true),
	}

	if raw := q.Get("lasttimestamp"); raw != "" {
		since, err := parseTimestamp(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lasttimestamp",
				"lasttimestamp must be RFC 3339 or unix milliseconds")
			return
		}
		filter.Since = &since
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := logbook.DefaultPageSize
	if raw := q.Get("page_size"); raw != "" {
		if ps, err := strconv.Atoi(raw); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	result, err := h.pager.GetPage(ctx, filter, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list logs",
			zap.Error(err),
			zap.String("plant", filter.Plant),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list logs", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// GetMailRecipients handles GET /v1/categories/{category}/recipients.
// Recipients are returned even when the category's notification flag is
// off; the flag only gates automatic dispatch.
func (h *Handler) GetMailRecipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := chi.URLParam(r, "category")
	plant := r.URL.Query().Get("plant")
	if plant == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing plant", "plant query parameter is required")
		return
	}

	recipients, err := h.resolver.MailRecipients(ctx, category, plant)
	if err != nil {
		h.logger.Error("failed to get mail recipients",
			zap.Error(err),
			zap.String("category", category),
			zap.String("plant", plant),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get mail recipients", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"recipients": strings.Join(recipients, ","),
		"count":      len(recipients),
	})
}

type sendMailRequest struct {
	Plant   string `json:"plant"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// SendMailByCategory handles POST /v1/categories/{category}/send, a manual
// re-trigger of dispatch independent of log creation. Zero recipients is a
// success, not an error.
func (h *Handler) SendMailByCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := chi.URLParam(r, "category")

	var req sendMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Plant == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing plant", "plant is required")
		return
	}

	recipients, err := h.resolver.MailRecipients(ctx, category, req.Plant)
	if err != nil {
		h.logger.Error("failed to resolve mail recipients",
			zap.Error(err),
			zap.String("category", category),
			zap.String("plant", req.Plant),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve recipients", "")
		return
	}

	status := notify.StatusSkipped
	if len(recipients) > 0 {
		outcome := h.dispatcher.Dispatch(ctx, notify.Recipients{Emails: recipients}, notify.Content{
			Plant:    req.Plant,
			Category: category,
			Subject:  req.Subject,
			Body:     req.Message,
		})
		status = notify.StatusSent
		for _, c := range outcome.Channels {
			status = c.Status
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"recipients": strings.Join(recipients, ","),
		"status":     status,
	})
}

func parseBoolDefault(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// parseTimestamp accepts RFC 3339 or unix milliseconds, the two formats
// polling clients send back from last_change_timestamp.
func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
