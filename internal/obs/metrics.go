package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Product audit appends that failed and were dropped.",
	})

	PermissionResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_resolutions_total",
			Help: "Permission record resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	ChangeEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "change_events_dropped_total",
		Help: "Realtime change events dropped for slow subscribers.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the last readiness check passed.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuditWriteFailures, PermissionResolutions, ChangeEventsDropped, ready,
		)
	})
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests keyed by canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses resource identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "products":
		parts[2] = ":code"
		switch {
		case len(parts) == 3:
		case len(parts) == 4 && (parts[3] == "prices" || parts[3] == "recover"):
		case len(parts) == 5 && parts[3] == "prices":
			parts[4] = ":date"
		default:
			return raw
		}
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "permissions":
		parts[3] = ":id"
	default:
		return raw
	}
	return "/" + strings.Join(parts, "/")
}

// statusWriter captures the response code; Flush is forwarded for SSE.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
