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

	callableInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callable_invocations_total",
			Help: "Callable invocations by function and result code.",
		},
		[]string{"function", "code"},
	)

	callableDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callable_duration_seconds",
			Help:    "Callable latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Requests rejected by the per-caller rate limiter.",
		},
		[]string{"action"},
	)

	rateLimitFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_fail_open_total",
			Help: "Rate limit checks that failed and let the request through.",
		},
		[]string{"action"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Security log entries that could not be persisted.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "readiness",
		Help: "1 when the document store answered the last readiness probe.",
	})

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			callableInvocations, callableDuration,
			rateLimitRejections, rateLimitFailOpen,
			auditWriteFailures, ready,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCallable records one callable invocation.
func ObserveCallable(function, code string, elapsed time.Duration) {
	callableInvocations.WithLabelValues(function, code).Inc()
	callableDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}

// RateLimitRejected counts a request denied by the limiter.
func RateLimitRejected(action string) {
	rateLimitRejections.WithLabelValues(action).Inc()
}

// RateLimitFailedOpen counts a limiter error that let the request through.
func RateLimitFailedOpen(action string) {
	rateLimitFailOpen.WithLabelValues(action).Inc()
}

// AuditWriteFailed counts a security log entry that was dropped.
func AuditWriteFailed() {
	auditWriteFailures.Inc()
}

// SetReady publishes the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures in-flight requests, totals and latency per canonical path.
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

var knownCallables = map[string]bool{
	"validateLogin":              true,
	"createProfile":              true,
	"linkProfessionalToBusiness": true,
	"createInitialUserDocument":  true,
}

// CanonicalPath bounds label cardinality: query strings are dropped and unknown
// callable names collapse to a placeholder.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const callablePrefix = "/v1/callable/"
	if strings.HasPrefix(p, callablePrefix) {
		name := strings.TrimPrefix(p, callablePrefix)
		if knownCallables[name] {
			return p
		}
		return callablePrefix + ":name"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
