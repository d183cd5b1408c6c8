package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/tickler/internal/calendar"
	"github.com/lalithlochan/tickler/internal/db"
	"github.com/lalithlochan/tickler/internal/metrics"
	"github.com/lalithlochan/tickler/internal/redis"
)

// ReminderRepository defines the interface for reminder database operations
type ReminderRepository interface {
	CreateReminder(ctx context.Context, rem *db.Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*db.Reminder, error)
	ListByOwner(ctx context.Context, owner string) ([]*db.Reminder, error)
	DeleteReminder(ctx context.Context, id uuid.UUID) error
	AttachCalendarEventRef(ctx context.Context, id uuid.UUID, ref string) error
}

// TimeResolver turns free-text scheduling phrases into concrete instants.
type TimeResolver interface {
	Resolve(text string, ref time.Time) (time.Time, error)
}

// EventMirror copies a reminder into an external calendar, returning the
// event reference.
type EventMirror interface {
	Mirror(ctx context.Context, rem *db.Reminder) (string, error)
}

// ReminderRequest represents the incoming request body
type ReminderRequest struct {
	Owner string `json:"owner"`
	Text  string `json:"text"`
}

// ReminderResponse is returned after creating a reminder
type ReminderResponse struct {
	ID    string `json:"id"`
	DueAt string `json:"due_at"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        ReminderRepository
	resolver    TimeResolver
	idempotency *redis.IdempotencyService // nil if Redis not configured
	mirror      EventMirror               // nil if calendar mirroring not configured
	now         func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo ReminderRepository, resolver TimeResolver) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		resolver: resolver,
		now:      time.Now,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, repo ReminderRepository, resolver TimeResolver, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, repo, resolver)
	h.idempotency = idempotency
	return h
}

// WithMirror enables best-effort calendar mirroring on reminder creation.
func (h *Handler) WithMirror(mirror EventMirror) *Handler {
	h.mirror = mirror
	return h
}

// CreateReminder handles POST /v1/reminders
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req ReminderRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Owner == "" || req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "owner and text are required")
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, req.Owner, idempotencyKey)

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
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			resp := ReminderResponse{ID: cachedResult.ReminderID, DueAt: cachedResult.DueAt}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
	}

	// Resolve the due time from the reminder text
	dueAt, err := h.resolver.Resolve(req.Text, h.now())
	if err != nil {
		metrics.RecordAmbiguousInput()
		h.logger.Info("reminder text had no resolvable time",
			zap.String("owner", req.Owner),
		)
		h.writeError(w, http.StatusUnprocessableEntity, "ambiguous_input",
			"Could not resolve a due time",
			"I couldn't find a clear date/time. Try: 'remind me tomorrow at 9am'")
		return
	}

	rem := &db.Reminder{
		ID:    uuid.New(),
		Owner: req.Owner,
		Text:  req.Text,
		DueAt: dueAt,
	}

	if err := h.repo.CreateReminder(ctx, rem); err != nil {
		h.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("owner", req.Owner),
		)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Failed to create reminder", "")
		return
	}

	metrics.RecordReminderCreated()
	h.logger.Info("reminder created",
		zap.String("id", rem.ID.String()),
		zap.String("owner", req.Owner),
		zap.Time("due_at", rem.DueAt),
	)

	// Mirror to the external calendar. Failures never affect the reminder:
	// it is already persisted and will fire from storage regardless.
	h.mirrorReminder(ctx, rem)

	// Store idempotency result
	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			ReminderID: rem.ID.String(),
			DueAt:      rem.DueAt.UTC().Format(time.RFC3339),
			StatusCode: http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.Owner, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	resp := ReminderResponse{
		ID:    rem.ID.String(),
		DueAt: rem.DueAt.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) mirrorReminder(ctx context.Context, rem *db.Reminder) {
	if h.mirror == nil {
		return
	}

	eventRef, err := h.mirror.Mirror(ctx, rem)
	if err != nil {
		if errors.Is(err, calendar.ErrNoGrant) {
			metrics.RecordCalendarMirror("skipped")
			return
		}
		metrics.RecordCalendarMirror("failed")
		h.logger.Warn("calendar mirror failed",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}

	if err := h.repo.AttachCalendarEventRef(ctx, rem.ID, eventRef); err != nil {
		metrics.RecordCalendarMirror("failed")
		h.logger.Warn("failed to attach calendar event ref",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}

	metrics.RecordCalendarMirror("mirrored")
	h.logger.Info("reminder mirrored to calendar",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("event_ref", eventRef),
	)
}

// GetReminder handles GET /v1/reminders/{id}
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")

	remID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	rem, err := h.repo.GetReminder(ctx, remID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
			return
		}
		h.logger.Error("failed to get reminder",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Failed to get reminder", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rem)
}

// ListReminders handles GET /v1/reminders?owner=xxx
// Reminders are returned in due order, soonest first.
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing owner", "owner query parameter is required")
		return
	}

	reminders, err := h.repo.ListByOwner(ctx, owner)
	if err != nil {
		h.logger.Error("failed to list reminders",
			zap.Error(err),
			zap.String("owner", owner),
		)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Failed to list reminders", "")
		return
	}

	h.logger.Info("reminders listed",
		zap.String("owner", owner),
		zap.Int("count", len(reminders)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  reminders,
		"count": len(reminders),
	})
}

// DeleteReminder handles DELETE /v1/reminders/{id}
// Cancellation is idempotent: deleting an unknown or already-delivered
// reminder succeeds.
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	remID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.DeleteReminder(ctx, remID); err != nil {
		h.logger.Error("failed to delete reminder",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Failed to delete reminder", "")
		return
	}

	h.logger.Info("reminder canceled",
		zap.String("id", idStr),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": "canceled",
	})
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
