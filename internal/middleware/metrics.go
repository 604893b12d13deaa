package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the client. All are registered with the default
// registry and exposed by the dashboard's /metrics endpoint.
var (
	dashboardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_dashboard_requests_total",
			Help: "Total number of dashboard HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	dashboardRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_dashboard_request_duration_seconds",
			Help:    "Dashboard HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_api_requests_total",
			Help: "Total number of requests sent to the meal-logging API",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_api_request_duration_seconds",
			Help:    "Meal-logging API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)

	sessionAuthenticated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_session_authenticated",
			Help: "1 while the session is authenticated, 0 otherwise",
		},
	)

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_auth_attempts_total",
			Help: "Total number of login and registration attempts",
		},
		[]string{"operation", "result"},
	)

	tokenStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_token_store_operations_total",
			Help: "Total number of token store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	tokenStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_token_store_operation_duration_seconds",
			Help:    "Token store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

func init() {
	prometheus.MustRegister(dashboardRequestsTotal)
	prometheus.MustRegister(dashboardRequestDuration)
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(sessionTransitionsTotal)
	prometheus.MustRegister(sessionAuthenticated)
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(tokenStoreOpsTotal)
	prometheus.MustRegister(tokenStoreOpDuration)
}

// Metrics records count and duration of dashboard requests, labelled by the
// chi route pattern rather than the raw path.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			status := strconv.Itoa(ww.Status())
			dashboardRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			dashboardRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// APIMetrics is the outbound counterpart of Metrics. Transport failures are
// counted with status "error".
func APIMetrics() Layer {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			endpoint := Endpoint(r)

			resp, err := next.RoundTrip(r)

			status := "error"
			if err == nil {
				status = strconv.Itoa(resp.StatusCode)
			}
			apiRequestsTotal.WithLabelValues(r.Method, endpoint, status).Inc()
			apiRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())

			return resp, err
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionTransition counts a session state change and keeps the
// authenticated gauge in sync.
func RecordSessionTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
	if to == "authenticated" {
		sessionAuthenticated.Set(1)
	} else {
		sessionAuthenticated.Set(0)
	}
}

// IncrementAuthAttempts counts a login or registration outcome.
//
// Parameters:
//   - operation: "login" or "register"
//   - result: "success", "invalid_input", "rejected" or "error"
func IncrementAuthAttempts(operation, result string) {
	authAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// RecordTokenStoreOp records one token store call.
func RecordTokenStoreOp(backend, operation, status string, duration time.Duration) {
	tokenStoreOpsTotal.WithLabelValues(backend, operation, status).Inc()
	tokenStoreOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
