package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/tickler/internal/db"
)

var errStoreDown = errors.New("store down")

// mockStore is an in-memory stand-in for the reminder repository.
type mockStore struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*db.Reminder

	findFails bool
	markFails bool

	markCalls int
}

func newMockStore(reminders ...*db.Reminder) *mockStore {
	m := &mockStore{reminders: make(map[uuid.UUID]*db.Reminder)}
	for _, r := range reminders {
		m.reminders[r.ID] = r
	}
	return m
}

func (m *mockStore) FindDueUndelivered(ctx context.Context, now time.Time) ([]*db.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findFails {
		return nil, errStoreDown
	}

	var due []*db.Reminder
	for _, r := range m.reminders {
		if !r.DueAt.After(now) && !r.Delivered {
			due = append(due, r)
		}
	}
	return due, nil
}

func (m *mockStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markCalls++
	if m.markFails {
		return errStoreDown
	}
	if r, ok := m.reminders[id]; ok {
		r.Delivered = true
	}
	return nil
}

func (m *mockStore) delivered(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders[id].Delivered
}

// mockDispatcher records sends and can be told to fail.
type mockDispatcher struct {
	mu       sync.Mutex
	sends    []string
	messages []string
	fail     bool
}

func (d *mockDispatcher) Send(ctx context.Context, recipient, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sends = append(d.sends, recipient)
	d.messages = append(d.messages, message)
	if d.fail {
		return errors.New("dispatch failed")
	}
	return nil
}

func (d *mockDispatcher) sendCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func dueReminder(owner, text string, dueAt time.Time) *db.Reminder {
	return &db.Reminder{
		ID:    uuid.New(),
		Owner: owner,
		Text:  text,
		DueAt: dueAt,
	}
}

func newTestSweeper(store Store, dispatcher *mockDispatcher, now time.Time) *Sweeper {
	s := New(store, dispatcher, Config{}, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestSweep_DueReminderIsDispatchedOnceAndMarked(t *testing.T) {
	due := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	rem := dueReminder("+15551234567", "call Bob", due)
	store := newMockStore(rem)
	dispatcher := &mockDispatcher{}

	// Sweep runs one millisecond past the due instant.
	s := newTestSweeper(store, dispatcher, due.Add(time.Millisecond))
	s.Sweep(context.Background())

	if got := dispatcher.sendCount(); got != 1 {
		t.Fatalf("dispatcher invoked %d times, want exactly 1", got)
	}
	if !store.delivered(rem.ID) {
		t.Error("reminder not marked delivered after successful dispatch")
	}
	if !strings.Contains(dispatcher.messages[0], "call Bob") {
		t.Errorf("message %q does not carry the reminder text", dispatcher.messages[0])
	}
}

func TestSweep_FutureReminderIsNotSwept(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rem := dueReminder("owner", "later", now.Add(time.Hour))
	store := newMockStore(rem)
	dispatcher := &mockDispatcher{}

	s := newTestSweeper(store, dispatcher, now)
	s.Sweep(context.Background())

	if got := dispatcher.sendCount(); got != 0 {
		t.Errorf("dispatcher invoked %d times for a future reminder, want 0", got)
	}
	if store.delivered(rem.ID) {
		t.Error("future reminder marked delivered")
	}
}

func TestSweep_DispatchFailureLeavesUndeliveredAndRetries(t *testing.T) {
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	rem := dueReminder("owner", "flaky", now.Add(-time.Minute))
	store := newMockStore(rem)
	dispatcher := &mockDispatcher{fail: true}

	s := newTestSweeper(store, dispatcher, now)

	// Sweep N: dispatch fails, reminder stays undelivered.
	s.Sweep(context.Background())
	if store.delivered(rem.ID) {
		t.Fatal("reminder marked delivered despite dispatch failure")
	}
	if store.markCalls != 0 {
		t.Errorf("MarkDelivered called %d times after failed dispatch, want 0", store.markCalls)
	}

	// Sweep N+1: the same reminder is found and retried.
	dispatcher.fail = false
	s.Sweep(context.Background())
	if got := dispatcher.sendCount(); got != 2 {
		t.Errorf("dispatcher invoked %d times across two sweeps, want 2", got)
	}
	if !store.delivered(rem.ID) {
		t.Error("reminder not delivered after retry sweep")
	}
}

func TestSweep_StorageOutageAbortsCycleQuietly(t *testing.T) {
	store := newMockStore(dueReminder("owner", "x", time.Unix(0, 0)))
	store.findFails = true
	dispatcher := &mockDispatcher{}

	s := newTestSweeper(store, dispatcher, time.Now())
	s.Sweep(context.Background())

	if got := dispatcher.sendCount(); got != 0 {
		t.Errorf("dispatcher invoked %d times during storage outage, want 0", got)
	}

	// Outage clears; the next tick picks the same due set back up.
	store.findFails = false
	s.Sweep(context.Background())
	if got := dispatcher.sendCount(); got != 1 {
		t.Errorf("dispatcher invoked %d times after recovery, want 1", got)
	}
}

func TestSweep_MarkDeliveredFailureMeansRedispatch(t *testing.T) {
	now := time.Now()
	rem := dueReminder("owner", "dup", now.Add(-time.Second))
	store := newMockStore(rem)
	store.markFails = true
	dispatcher := &mockDispatcher{}

	s := newTestSweeper(store, dispatcher, now)
	s.Sweep(context.Background())

	// Delivered flag did not stick, so the next sweep dispatches again.
	store.markFails = false
	s.Sweep(context.Background())

	if got := dispatcher.sendCount(); got != 2 {
		t.Errorf("dispatcher invoked %d times, want 2 (at-least-once)", got)
	}
	if !store.delivered(rem.ID) {
		t.Error("reminder not delivered once the store recovered")
	}
}

func TestSweep_OneFailingCandidateDoesNotBlockOthers(t *testing.T) {
	now := time.Now()
	a := dueReminder("owner-a", "first", now.Add(-time.Minute))
	b := dueReminder("owner-b", "second", now.Add(-time.Minute))
	store := newMockStore(a, b)

	// Fails only for owner-a.
	dispatcher := &selectiveDispatcher{failFor: "owner-a"}

	s := New(store, dispatcher, Config{}, zap.NewNop())
	s.now = func() time.Time { return now }
	s.Sweep(context.Background())

	if store.delivered(a.ID) {
		t.Error("failing candidate marked delivered")
	}
	if !store.delivered(b.ID) {
		t.Error("healthy candidate blocked by the failing one")
	}
}

type selectiveDispatcher struct {
	mu      sync.Mutex
	failFor string
}

func (d *selectiveDispatcher) Send(ctx context.Context, recipient, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if recipient == d.failFor {
		return errors.New("dispatch failed")
	}
	return nil
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	store := newMockStore()
	s := New(store, &mockDispatcher{}, Config{SweepInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
