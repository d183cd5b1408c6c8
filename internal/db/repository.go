package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for reminders and calendar grants.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new reminder repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// storageErr wraps a driver error so callers can recognize the transient
// ErrStorageUnavailable kind with errors.Is while keeping the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// CreateReminder inserts a new reminder. The insert is a single statement, so
// it is atomic: either every field is persisted or nothing is.
func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder) error {
	query := `
		INSERT INTO reminders (id, owner, text, due_at, delivered)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rem.ID,
		rem.Owner,
		rem.Text,
		rem.DueAt,
	).Scan(&rem.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return storageErr("insert reminder", err)
	}

	r.logger.Info("reminder created",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("owner", rem.Owner),
		zap.Time("due_at", rem.DueAt),
	)

	return nil
}

// GetReminder retrieves a reminder by ID.
func (r *Repository) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	query := `
		SELECT id, owner, text, due_at, created_at, delivered, calendar_event_ref
		FROM reminders
		WHERE id = $1
	`

	var rem Reminder
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&rem.ID,
		&rem.Owner,
		&rem.Text,
		&rem.DueAt,
		&rem.CreatedAt,
		&rem.Delivered,
		&rem.CalendarEventRef,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, storageErr("query reminder", err)
	}

	return &rem, nil
}

// ListByOwner retrieves all reminders for an owner ordered by due time
// ascending. Re-querying is side-effect free; an empty result is not an error.
func (r *Repository) ListByOwner(ctx context.Context, owner string) ([]*Reminder, error) {
	query := `
		SELECT id, owner, text, due_at, created_at, delivered, calendar_event_ref
		FROM reminders
		WHERE owner = $1
		ORDER BY due_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, owner)
	if err != nil {
		return nil, storageErr("query reminders by owner", err)
	}
	defer rows.Close()

	reminders, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}

	return reminders, nil
}

// FindDueUndelivered returns every reminder whose due time has passed at the
// given instant and that has not yet been marked delivered. The scheduler
// calls this once per sweep; rows stay in the result set until MarkDelivered
// lands, which is what makes the sweep restartable after a crash.
func (r *Repository) FindDueUndelivered(ctx context.Context, now time.Time) ([]*Reminder, error) {
	query := `
		SELECT id, owner, text, due_at, created_at, delivered, calendar_event_ref
		FROM reminders
		WHERE due_at <= $1 AND delivered = FALSE
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, storageErr("query due reminders", err)
	}
	defer rows.Close()

	reminders, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}

	return reminders, nil
}

// MarkDelivered flips delivered to true. Idempotent: a second call, or a call
// against a row a concurrent delete already removed, is a successful no-op.
// The WHERE clause makes the false -> true transition a single atomic row
// update, so a sweep racing a delete can never corrupt state.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE reminders SET delivered = TRUE WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("failed to mark reminder delivered",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return storageErr("mark delivered", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Debug("mark delivered matched no row",
			zap.String("reminder_id", id.String()),
		)
	}

	return nil
}

// DeleteReminder removes a reminder. Deleting an id that does not exist is
// not an error.
func (r *Repository) DeleteReminder(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete reminder", err)
	}

	r.logger.Info("reminder deleted",
		zap.String("reminder_id", id.String()),
		zap.Bool("existed", result.RowsAffected() > 0),
	)

	return nil
}

// AttachCalendarEventRef records the mirrored calendar event for a reminder.
// The ref is set at most once: the guarded UPDATE only lands while the column
// is NULL, and attaching a different ref afterwards is ErrEventRefConflict.
// Re-attaching the same ref (a retried mirror) is a no-op.
func (r *Repository) AttachCalendarEventRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `
		UPDATE reminders
		SET calendar_event_ref = $2
		WHERE id = $1 AND (calendar_event_ref IS NULL OR calendar_event_ref = $2)
	`

	result, err := r.db.Pool().Exec(ctx, query, id, ref)
	if err != nil {
		return storageErr("attach calendar event ref", err)
	}

	if result.RowsAffected() == 0 {
		// Either the reminder is gone (deleted mid-mirror, acceptable) or it
		// already carries a different ref, which callers must not trigger.
		existing, getErr := r.GetReminder(ctx, id)
		if getErr != nil {
			return nil
		}
		if existing.CalendarEventRef != nil && *existing.CalendarEventRef != ref {
			return fmt.Errorf("reminder %s: %w", id, ErrEventRefConflict)
		}
	}

	return nil
}

func scanReminders(rows pgx.Rows) ([]*Reminder, error) {
	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		err := rows.Scan(
			&rem.ID,
			&rem.Owner,
			&rem.Text,
			&rem.DueAt,
			&rem.CreatedAt,
			&rem.Delivered,
			&rem.CalendarEventRef,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, &rem)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate rows", err)
	}

	return reminders, nil
}

// PutCalendarCredential stores (or replaces) the owner's authorization grant.
func (r *Repository) PutCalendarCredential(ctx context.Context, owner string, credentials json.RawMessage) error {
	query := `
		INSERT INTO calendar_credentials (owner, credentials, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner) DO UPDATE
		SET credentials = EXCLUDED.credentials, updated_at = NOW()
	`

	if _, err := r.db.Pool().Exec(ctx, query, owner, credentials); err != nil {
		return storageErr("upsert calendar credential", err)
	}

	r.logger.Info("calendar credential stored", zap.String("owner", owner))

	return nil
}

// GetCalendarCredential returns the owner's stored grant, or ErrNotFound when
// the owner never connected a calendar.
func (r *Repository) GetCalendarCredential(ctx context.Context, owner string) (*CalendarCredential, error) {
	query := `
		SELECT owner, credentials, updated_at
		FROM calendar_credentials
		WHERE owner = $1
	`

	var cred CalendarCredential
	err := r.db.Pool().QueryRow(ctx, query, owner).Scan(
		&cred.Owner,
		&cred.Credentials,
		&cred.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("credential for %s: %w", owner, ErrNotFound)
	}

	if err != nil {
		return nil, storageErr("query calendar credential", err)
	}

	return &cred, nil
}
