// Package metrics provides Prometheus metrics for the data dictionaries
// builder and server.
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
			Name: "datadict_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datadict_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Catalog metrics
	catalogBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datadict_catalog_build_duration_seconds",
			Help:    "Time to walk the content root and build the manifest",
			Buckets: prometheus.DefBuckets,
		},
	)

	catalogFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datadict_catalog_files",
			Help: "Number of files listed in the current manifest",
		},
	)

	catalogCategories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datadict_catalog_categories",
			Help: "Number of categories in the current manifest",
		},
	)

	catalogSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datadict_catalog_skipped_entries_total",
			Help: "Entries skipped because they could not be read",
		},
	)

	// Content metrics
	contentBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datadict_content_bytes_served_total",
			Help: "Total bytes served from the file endpoint",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datadict_content_downloads_total",
			Help: "Total number of single file downloads",
		},
		[]string{"status"},
	)

	// Bundle metrics
	bundleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datadict_bundle_requests_total",
			Help: "Bundle requests by outcome",
		},
		[]string{"outcome"},
	)

	bundleFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datadict_bundle_fetches_total",
			Help: "Per-file fetches made while assembling bundles",
		},
		[]string{"status"},
	)

	bundleBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datadict_bundle_bytes",
			Help:    "Size of produced bundles in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	bundleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datadict_bundle_duration_seconds",
			Help:    "Time to assemble a bundle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datadict_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datadict_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Quota metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datadict_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	busyRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datadict_busy_rejections_total",
			Help: "Bundle requests rejected while the session had one in flight (409s)",
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datadict_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datadict_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datadict_db_query_duration_seconds",
			Help:    "History database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCatalogBuild records a completed build.
func RecordCatalogBuild(duration time.Duration, categories, files, skipped int) {
	catalogBuildDuration.Observe(duration.Seconds())
	SetCatalogSize(categories, files)
	catalogSkippedTotal.Add(float64(skipped))
}

// SetCatalogSize sets the size gauges from the manifest currently served.
func SetCatalogSize(categories, files int) {
	catalogCategories.Set(float64(categories))
	catalogFiles.Set(float64(files))
}

// RecordContentDownload records a single file download.
func RecordContentDownload(bytes int64, success bool) {
	contentBytesServed.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordBundle records the outcome of one bundle request: "ok", "partial",
// "empty", "cancelled" or "error".
func RecordBundle(outcome string, bytes int, duration time.Duration) {
	bundleRequestsTotal.WithLabelValues(outcome).Inc()
	bundleDuration.Observe(duration.Seconds())
	if bytes > 0 {
		bundleBytes.Observe(float64(bytes))
	}
}

// RecordBundleFetch records one file fetch made for a bundle.
func RecordBundleFetch(success bool) {
	bundleFetchesTotal.WithLabelValues(status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordBusyRejection records a request refused because the session was busy.
func RecordBusyRejection() {
	busyRejectionsTotal.Inc()
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern so file paths do not explode the label
// space.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
