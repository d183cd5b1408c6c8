package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/v1/reminders", 200, 100*time.Millisecond)
	RecordRequest("POST", "/v1/reminders", 201, 50*time.Millisecond)
	RecordRequest("POST", "/v1/reminders", 422, 10*time.Millisecond)
}

func TestRecordDomainCounters(t *testing.T) {
	RecordReminderCreated()
	RecordAmbiguousInput()
	RecordSweep()
	RecordDispatch("sent")
	RecordDispatch("failed")
	RecordCalendarMirror("mirrored")
	RecordCalendarMirror("skipped")
	RecordCalendarMirror("failed")
	RecordIdempotencyHit()
	RecordRateLimitRejection("+15551234567")
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint returned %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics endpoint returned empty body")
	}
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reminders", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("middleware altered status: got %d, want %d", rec.Code, http.StatusTeapot)
	}
}
