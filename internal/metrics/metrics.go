package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: completions served from the completion cache.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brokerdesk_completion_cache_hits_total",
			Help: "Total number of completion cache hits.",
		},
	)

	// Counter: upstream attempts by provider and outcome
	// (success | transient | permanent | response_format).
	CompletionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerdesk_completion_attempts_total",
			Help: "Upstream completion attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	CompletionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerdesk_completion_fallbacks_total",
			Help: "Calls handed to the alternate provider after the selected one was unavailable.",
		},
		[]string{"from", "to"},
	)

	// Histogram: single upstream attempt latency in seconds.
	CompletionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerdesk_completion_attempt_seconds",
			Help:    "Latency of a single upstream completion attempt in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider"},
	)

	DocumentsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerdesk_documents_generated_total",
			Help: "Generated documents by kind and result.",
		},
		[]string{"kind", "result"},
	)

	ModerationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerdesk_moderation_decisions_total",
			Help: "Teaser moderation decisions.",
		},
		[]string{"decision"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerdesk_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CompletionAttemptsTotal,
		CompletionFallbacksTotal,
		CompletionLatencySeconds,
		DocumentsGeneratedTotal,
		ModerationDecisionsTotal,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request. The chi route pattern
// is used as label so ids in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
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
