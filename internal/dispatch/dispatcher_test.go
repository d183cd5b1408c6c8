package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLogDispatcher_AlwaysSucceeds(t *testing.T) {
	d := NewLogDispatcher(zap.NewNop())

	if err := d.Send(context.Background(), "+15551234567", "Reminder: test"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestWebhookDispatcher_Send(t *testing.T) {
	var received notifyPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())

	err := d.Send(context.Background(), "+15551234567", "🔔 Reminder: call Bob (scheduled)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.To != "+15551234567" {
		t.Errorf("payload to = %q, want %q", received.To, "+15551234567")
	}
	if received.Message != "🔔 Reminder: call Bob (scheduled)" {
		t.Errorf("payload message = %q", received.Message)
	}
}

func TestWebhookDispatcher_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(WebhookConfig{URL: srv.URL}, zap.NewNop())

	if err := d.Send(context.Background(), "owner", "message"); err == nil {
		t.Error("expected error on 502 response, got nil")
	}
}

func TestWebhookDispatcher_UnreachableEndpoint(t *testing.T) {
	d := NewWebhookDispatcher(WebhookConfig{
		URL:     "http://127.0.0.1:1", // nothing listens here
		Timeout: 500 * time.Millisecond,
	}, zap.NewNop())

	if err := d.Send(context.Background(), "owner", "message"); err == nil {
		t.Error("expected error on unreachable endpoint, got nil")
	}
}

// failNDispatcher fails the first n sends, then succeeds.
type failNDispatcher struct {
	remaining int
	calls     int
}

func (f *failNDispatcher) Send(ctx context.Context, recipient, message string) error {
	f.calls++
	if f.remaining > 0 {
		f.remaining--
		return errors.New("channel down")
	}
	return nil
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	inner := &failNDispatcher{remaining: 100}
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 3, RecoveryTimeout: time.Hour}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := b.Send(context.Background(), "owner", "m"); err == nil {
			t.Fatalf("send %d: expected failure", i)
		}
	}

	// Circuit is now open: the inner dispatcher must not be reached.
	err := b.Send(context.Background(), "owner", "m")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("inner dispatcher called %d times, want 3", inner.calls)
	}
}

func TestBreaker_RecoversViaProbe(t *testing.T) {
	inner := &failNDispatcher{remaining: 2}
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 2, RecoveryTimeout: time.Nanosecond}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_ = b.Send(context.Background(), "owner", "m")
	}

	time.Sleep(time.Millisecond) // let the recovery timeout elapse

	// Probe succeeds, circuit closes.
	if err := b.Send(context.Background(), "owner", "m"); err != nil {
		t.Fatalf("probe send: %v", err)
	}

	if err := b.Send(context.Background(), "owner", "m"); err != nil {
		t.Errorf("send after recovery: %v", err)
	}
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	inner := &failNDispatcher{}
	b := NewBreaker(inner, BreakerConfig{}, zap.NewNop())

	if err := b.Send(context.Background(), "owner", "m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner dispatcher called %d times, want 1", inner.calls)
	}
}
