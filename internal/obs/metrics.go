package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
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

	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_outcomes_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	stepUpOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_stepup_outcomes_total",
			Help: "Step-up verifications by outcome.",
		},
		[]string{"outcome"},
	)

	riskLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_risk_levels_total",
			Help: "Risk level assigned per authentication attempt.",
		},
		[]string{"level"},
	)
)

// Init registers the collectors with the default registry. Call once.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		loginOutcomes,
		stepUpOutcomes,
		riskLevels,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountLogin records a login attempt outcome: granted, step_up or denied.
func CountLogin(outcome string) {
	loginOutcomes.WithLabelValues(outcome).Inc()
}

// CountStepUp records a step-up verification outcome.
func CountStepUp(outcome string) {
	stepUpOutcomes.WithLabelValues(outcome).Inc()
}

// CountRiskLevel records the risk band an attempt landed in.
func CountRiskLevel(level string) {
	if level == "" {
		return
	}
	riskLevels.WithLabelValues(level).Inc()
}

// Instrument measures request rate, latency and in-flight count. The path
// label uses the chi route pattern so IDs do not explode the cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
