// Package metrics provides Prometheus instrumentation for the financial core.
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
	// PriceCalculations counts fresh (uncached) price computations.
	PriceCalculations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_calculations_total",
		Help: "Total number of fresh price calculations",
	})

	// MarginViolations counts calculations whose final price fell below the
	// minimum margin.
	MarginViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_margin_violations_total",
		Help: "Price calculations below the minimum margin",
	})

	// CacheHits / CacheMisses / CacheErrors track the price cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_cache_hits_total",
		Help: "Price cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_cache_misses_total",
		Help: "Price cache misses",
	})
	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_cache_errors_total",
		Help: "Price cache failures degraded to recomputation",
	})

	// CacheInvalidations counts keys evicted by index-wide invalidation.
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_cache_invalidations_total",
		Help: "Cache keys evicted by volatility index invalidation",
	})

	// PriceLocksCreated counts successfully committed price locks.
	PriceLocksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_locks_created_total",
		Help: "Price locks created",
	})

	// LockConflicts counts lock transactions that exhausted their conflict
	// retry budget.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_price_lock_conflicts_total",
		Help: "Price lock transactions surfaced as transient conflicts",
	})

	// InvariantBreaches counts critical internal consistency failures.
	InvariantBreaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_invariant_breaches_total",
		Help: "Critical invariant breaches detected",
	})

	// FinancialEventsProcessed counts events folded into risk scores.
	FinancialEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_financial_events_processed_total",
		Help: "Financial events marked processed",
	})

	// VouchesCreated counts reputation vouches created.
	VouchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_vouches_created_total",
		Help: "Reputation vouches created",
	})

	// CascadeDefaults counts vouchee defaults that affected at least one vouch.
	CascadeDefaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fincore_cascade_defaults_total",
		Help: "Vouchee defaults cascaded to vouchers",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fincore_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fincore_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
