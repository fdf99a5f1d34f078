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
			Name: "shiftlog_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftlog_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	logsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftlog_logs_created_total",
			Help: "Total log entries created by plant and category",
		},
		[]string{"plant", "category"},
	)

	visibilityFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shiftlog_visibility_fanout_size",
			Help:    "Visibility records created per log entry",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftlog_notifications_dispatched_total",
			Help: "Total notification dispatches by channel and status",
		},
		[]string{"channel", "status"},
	)

	marksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftlog_visibility_marks_total",
			Help: "Read/unread mark operations by mode and result",
		},
		[]string{"mode", "result"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftlog_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"plant"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftlog_idempotency_hits_total",
			Help: "Log creations served from idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLogCreated records a created log entry and its fan-out size.
func RecordLogCreated(plant, category string, visibilityCount int) {
	logsCreated.WithLabelValues(plant, category).Inc()
	visibilityFanout.Observe(float64(visibilityCount))
}

// RecordDispatch records a notification dispatch result.
func RecordDispatch(channel, status string) {
	notificationsDispatched.WithLabelValues(channel, status).Inc()
}

// RecordMark records a read/unread mark result.
func RecordMark(mode, result string) {
	marksTotal.WithLabelValues(mode, result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(plant string) {
	rateLimitRejections.WithLabelValues(plant).Inc()
}

// RecordIdempotencyHit records a creation replayed from the cache.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
