package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickler_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickler_reminders_created_total",
			Help: "Total reminders created",
		},
	)

	ambiguousInputs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickler_ambiguous_inputs_total",
			Help: "Creation requests rejected because no due time could be resolved",
		},
	)

	sweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickler_sweeps_total",
			Help: "Due-reminder sweep cycles executed",
		},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_dispatches_total",
			Help: "Notification dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	calendarMirrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_calendar_mirrors_total",
			Help: "Calendar mirror attempts by outcome",
		},
		[]string{"outcome"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickler_idempotency_hits_total",
			Help: "Creation requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"owner"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordReminderCreated records a successfully created reminder.
func RecordReminderCreated() {
	remindersCreated.Inc()
}

// RecordAmbiguousInput records a creation request with no resolvable due time.
func RecordAmbiguousInput() {
	ambiguousInputs.Inc()
}

// RecordSweep records one sweep cycle.
func RecordSweep() {
	sweepsTotal.Inc()
}

// RecordDispatch records a dispatch attempt outcome ("sent" or "failed").
func RecordDispatch(outcome string) {
	dispatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordCalendarMirror records a mirror attempt outcome ("mirrored",
// "skipped", or "failed").
func RecordCalendarMirror(outcome string) {
	calendarMirrors.WithLabelValues(outcome).Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(owner string) {
	rateLimitRejections.WithLabelValues(owner).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
