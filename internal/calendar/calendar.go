// Package calendar mirrors reminders into an owner's external calendar over
// CalDAV. Mirroring is strictly best-effort: every failure mode here is
// logged by the caller and never propagates into reminder creation.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/lalithlochan/tickler/internal/db"
)

// ErrNoGrant means the owner never connected a calendar. Callers skip
// mirroring silently.
var ErrNoGrant = errors.New("no calendar authorization on file")

// ErrSyncFailed marks any mirroring failure past the grant lookup: network,
// server errors, timeouts. Creation succeeded already; the reminder simply
// has no mirror.
var ErrSyncFailed = errors.New("calendar sync failed")

// CredentialReader is the slice of the repository the mirror needs.
type CredentialReader interface {
	GetCalendarCredential(ctx context.Context, owner string) (*db.CalendarCredential, error)
}

// Config holds mirroring settings.
type Config struct {
	// ServerURL is the CalDAV endpoint events are written to.
	ServerURL string

	// Timeout bounds one complete mirror attempt, discovery included.
	Timeout time.Duration

	// EventDuration is how long a mirrored event spans from the due instant.
	EventDuration time.Duration
}

// Mirror writes reminders into the owner's calendar as VEVENTs.
type Mirror struct {
	creds    CredentialReader
	oauthCfg *oauth2.Config
	config   Config
	logger   *zap.Logger
}

// NewMirror creates a calendar mirror. oauthCfg authenticates the CalDAV
// requests with the owner's stored grant.
func NewMirror(creds CredentialReader, oauthCfg *oauth2.Config, cfg Config, logger *zap.Logger) *Mirror {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.EventDuration == 0 {
		cfg.EventDuration = 30 * time.Minute
	}

	return &Mirror{
		creds:    creds,
		oauthCfg: oauthCfg,
		config:   cfg,
		logger:   logger,
	}
}

// Mirror creates a calendar event for the reminder and returns an opaque
// reference to it. ErrNoGrant when the owner has no stored authorization;
// ErrSyncFailed on anything else. Retrying after a failure may create a
// duplicate event on the server; the store's set-once rule on the event ref
// guards the record, not the remote calendar.
func (m *Mirror) Mirror(ctx context.Context, rem *db.Reminder) (string, error) {
	cred, err := m.creds.GetCalendarCredential(ctx, rem.Owner)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrNoGrant
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(cred.Credentials, &token); err != nil {
		return "", fmt.Errorf("%w: decode grant: %w", ErrSyncFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	// The token source refreshes expired grants transparently.
	httpClient := oauth2.NewClient(ctx, m.oauthCfg.TokenSource(ctx, &token))

	client, err := caldav.NewClient(httpClient, m.config.ServerURL)
	if err != nil {
		return "", fmt.Errorf("%w: connect: %w", ErrSyncFailed, err)
	}

	calendarPath, err := m.findCalendar(ctx, client)
	if err != nil {
		return "", err
	}

	uid := rem.ID.String()
	eventPath := calendarPath
	if eventPath[len(eventPath)-1] != '/' {
		eventPath += "/"
	}
	eventPath += uid + ".ics"

	cal := reminderToICS(rem, uid, m.config.EventDuration)

	if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return "", fmt.Errorf("%w: put event: %w", ErrSyncFailed, err)
	}

	m.logger.Info("reminder mirrored to calendar",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("event_path", eventPath),
	)

	return eventPath, nil
}

// findCalendar resolves the owner's default calendar collection.
func (m *Mirror) findCalendar(ctx context.Context, client *caldav.Client) (string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: find principal: %w", ErrSyncFailed, err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("%w: find home set: %w", ErrSyncFailed, err)
	}

	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("%w: find calendars: %w", ErrSyncFailed, err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("%w: owner has no calendars", ErrSyncFailed)
	}

	return calendars[0].Path, nil
}

// reminderToICS renders a reminder as a single-VEVENT calendar. Times are
// written in UTC.
func reminderToICS(rem *db.Reminder, uid string, duration time.Duration) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Tickler//CalDAV//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, rem.Text)
	event.Props.SetDateTime(ical.PropDateTimeStart, rem.DueAt.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, rem.DueAt.UTC().Add(duration))
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	cal.Children = append(cal.Children, event.Component)
	return cal
}
