// Package metrics provides Prometheus metrics for the panel server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Workspace lifecycle
	workspaceOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_workspace_operations_total",
			Help: "Workspace create/delete operations",
		},
		[]string{"operation", "status"},
	)

	orphanedWorkspaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_workspace_orphaned_trees_total",
			Help: "Workspace trees left on disk after their record was deleted",
		},
	)

	// Path validation
	pathRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_path_rejections_total",
			Help: "Client paths rejected by the containment check",
		},
		[]string{"reason"},
	)

	listingSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_listing_entries_skipped_total",
			Help: "Directory entries omitted from listings because they could not be read",
		},
	)

	// Content transfer metrics
	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_upload_bytes_total",
			Help: "Total bytes written by uploads",
		},
	)

	uploadItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_upload_items_total",
			Help: "Uploaded items by result",
		},
		[]string{"status"},
	)

	downloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_download_bytes_total",
			Help: "Total bytes sent by downloads",
		},
		[]string{"kind"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_downloads_total",
			Help: "Downloads by kind and result",
		},
		[]string{"kind", "status"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_extractions_total",
			Help: "Archive extractions by result",
		},
		[]string{"status"},
	)

	extractedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_extracted_entries_total",
			Help: "Archive entries written to disk",
		},
	)

	// Snapshots
	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_snapshots_total",
			Help: "Workspace snapshots by result",
		},
		[]string{"status"},
	)

	snapshotBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_snapshot_bytes_total",
			Help: "Total bytes stored by snapshots",
		},
	)

	// Storage backend metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panel_storage_operation_duration_seconds",
			Help:    "Snapshot storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_storage_operations_total",
			Help: "Total snapshot storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panel_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panel_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panel_sse_connections_active",
			Help: "Number of connected event stream subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_sse_events_total",
			Help: "Events published to subscribers",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordWorkspaceOp records a workspace create or delete.
func RecordWorkspaceOp(operation string, success bool) {
	workspaceOpsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordOrphanedWorkspace counts a tree that outlived its record.
func RecordOrphanedWorkspace() {
	orphanedWorkspaces.Inc()
}

// RecordPathRejected records a rejected client path.
func RecordPathRejected(reason string) {
	pathRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordListingSkipped counts a directory entry left out of a listing.
func RecordListingSkipped() {
	listingSkippedTotal.Inc()
}

// RecordUpload records a single uploaded item.
func RecordUpload(bytes int64, success bool) {
	uploadBytesTotal.Add(float64(bytes))
	uploadItemsTotal.WithLabelValues(status(success)).Inc()
}

// RecordDownload records a download of the given kind ("file" or "zip").
func RecordDownload(kind string, bytes int64, success bool) {
	downloadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	downloadsTotal.WithLabelValues(kind, status(success)).Inc()
}

// RecordExtraction records an archive extraction.
func RecordExtraction(entries int, success bool) {
	extractedEntriesTotal.Add(float64(entries))
	extractionsTotal.WithLabelValues(status(success)).Inc()
}

// RecordSnapshot records a workspace snapshot.
func RecordSnapshot(bytes int64, success bool) {
	snapshotBytesTotal.Add(float64(bytes))
	snapshotsTotal.WithLabelValues(status(success)).Inc()
}

// RecordStorageOperation records a snapshot storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(driver, query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(driver, query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of event stream subscribers.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records a published event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed responses (SSE, downloads) through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Routes are labelled by the matched mux pattern to keep cardinality low.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
