package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reminder is a one-shot due-time notification owned by a single recipient.
// DueAt is fixed at creation from the resolver's output and never recomputed.
// Delivered only ever transitions false -> true.
type Reminder struct {
	ID               uuid.UUID `json:"id"`
	Owner            string    `json:"owner"`
	Text             string    `json:"text"`
	DueAt            time.Time `json:"due_at"`
	CreatedAt        time.Time `json:"created_at"`
	Delivered        bool      `json:"delivered"`
	CalendarEventRef *string   `json:"calendar_event_ref,omitempty"`
}

// CalendarCredential is the opaque authorization grant the calendar adapter
// uses to mirror reminders for an owner. The blob is whatever the token
// exchange produced; this layer never looks inside it.
type CalendarCredential struct {
	Owner       string          `json:"owner"`
	Credentials json.RawMessage `json:"credentials"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ErrStorageUnavailable marks transient connectivity failures. Callers treat
// these as retryable: the scheduler picks the same due set up on its next
// sweep, request handlers surface a retryable status to the client.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNotFound is returned when a lookup matches no row. DeleteReminder and
// MarkDelivered deliberately do NOT return it; both are idempotent.
var ErrNotFound = errors.New("not found")

// ErrEventRefConflict is returned when AttachCalendarEventRef runs against a
// reminder that already carries a different event ref. At most one mirror
// per reminder.
var ErrEventRefConflict = errors.New("calendar event ref already set")
