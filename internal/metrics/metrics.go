package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantnex-cache/internal/audit"
)

var (
	// Counter: audit records emitted, by cache and action.
	AuditActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcache_audit_actions_total",
			Help: "Total number of cache audit records by cache and action.",
		},
		[]string{"cache", "action"},
	)

	// Histogram: read-through load latency (hit, miss incl. upstream fetch, error).
	LoadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcache_load_duration_seconds",
			Help:    "Read-through load latency in seconds.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"cache", "result"},
	)

	// Histogram: HTTP latency in seconds, labelled with the route pattern.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register(reg prometheus.Registerer, extra ...prometheus.Collector) {
	reg.MustRegister(
		AuditActionsTotal,
		LoadDurationSeconds,
		HTTPLatencySeconds,
	)
	reg.MustRegister(extra...)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuditSink counts every audit record.
func AuditSink() audit.Sink {
	return audit.SinkFunc(func(rec audit.Record) {
		AuditActionsTotal.WithLabelValues(rec.Cache, string(rec.Action)).Inc()
	})
}

// ObserveLoad matches medcache.LoadObserver.
func ObserveLoad(cache, result string, d time.Duration) {
	LoadDurationSeconds.WithLabelValues(cache, result).Observe(d.Seconds())
}

// Middleware measures latency for each HTTP request. The chi route pattern is
// used instead of the raw path so patient identifiers never become labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
