package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slack_calculator_build_info",
			Help: "Build information of the Slack calculator",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_calculator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slack_calculator_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slack_calculator_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	SecretResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_calculator_secret_resolutions_total",
			Help: "Total number of signing secret resolutions",
		},
		[]string{"stage", "status"}, // stage: "fetch", "decrypt"
	)

	SecretResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slack_calculator_secret_resolution_duration_seconds",
			Help:    "Duration of signing secret fetch and decrypt",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_calculator_signature_verifications_total",
			Help: "Total number of request signature verifications by outcome",
		},
		[]string{"outcome"}, // "valid", "invalid", "transient_failure"
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_calculator_commands_total",
			Help: "Total number of slash commands handled",
		},
		[]string{"command", "status"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slack_calculator_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := routeLabel(r)

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// UnmatchedRoute labels requests that matched no route, keeping the path
// label bounded no matter what URLs clients send.
const UnmatchedRoute = "unmatched"

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return UnmatchedRoute
}

// RecordSecretStage records the result of one secret resolution stage.
func RecordSecretStage(stage string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SecretResolutionsTotal.WithLabelValues(stage, status).Inc()
}

// RecordVerification records a signature verification outcome.
func RecordVerification(outcome string) {
	VerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordCommand records a handled slash command.
func RecordCommand(command string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
}
