// Package observability holds the Prometheus metrics shared across Harrier.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_http_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	scoringRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_scoring_runs_total",
		Help: "Total scoring runs by mode and result.",
	}, []string{"mode", "result"})

	scoringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_scoring_duration_seconds",
		Help:    "Scoring run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	actorsScoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_actors_scored_total",
		Help: "Total actors scored across all runs.",
	})

	scoringErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_scoring_errors_total",
		Help: "Total scoring errors by kind.",
	}, []string{"kind"})

	batchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_batch_cache_total",
		Help: "Batch cache lookups by result.",
	}, []string{"result"})

	alertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_alerts_total",
		Help: "Total actor alerts raised by assessments.",
	})

	datasetsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_datasets_ingested_total",
		Help: "Total dataset ingestions by format.",
	}, []string{"format"})
)

// Middleware records per-request metrics. Routes are labelled with the chi
// route pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScoring records one scoring run.
func RecordScoring(mode string, actors int, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	scoringRunsTotal.WithLabelValues(mode, result).Inc()
	scoringDuration.WithLabelValues(mode).Observe(d.Seconds())
	if err == nil {
		actorsScoredTotal.Add(float64(actors))
	}
}

// RecordScoringError records a scoring error by kind.
func RecordScoringError(kind string) {
	scoringErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordBatchCache records a batch cache hit or miss.
func RecordBatchCache(hit bool) {
	if hit {
		batchCacheTotal.WithLabelValues("hit").Inc()
	} else {
		batchCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordAlerts records actor alerts raised by one assessment.
func RecordAlerts(n int) {
	alertsTotal.Add(float64(n))
}

// RecordIngestion records a dataset ingestion.
func RecordIngestion(format string) {
	datasetsIngestedTotal.WithLabelValues(format).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
