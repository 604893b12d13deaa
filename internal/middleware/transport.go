// Package middleware holds the HTTP plumbing on both sides of the client.
//
// Outbound, calls to the meal-logging API go through a chain of
// http.RoundTripper layers: request id and logging, metrics, rate limiting,
// bearer injection from the token store and 401 detection. Inbound, the
// local dashboard server uses chi-style func(http.Handler) http.Handler
// middleware for logging, panics, CORS, security headers and metrics.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Layer wraps a RoundTripper with additional behavior.
type Layer func(http.RoundTripper) http.RoundTripper

// Chain wraps base with layers. The first layer is outermost, so
//
//	Chain(base, A, B)
//
// sends a request through A, then B, then base.
func Chain(base http.RoundTripper, layers ...Layer) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(layers) - 1; i >= 0; i-- {
		rt = layers[i](rt)
	}
	return rt
}

type endpointKey struct{}

// WithEndpoint records the route template (e.g. "/meals/date/{date}") of an
// outbound request. Metrics and logs use it instead of the concrete path to
// keep label cardinality bounded.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, endpointKey{}, endpoint)
}

// Endpoint returns the route template set by WithEndpoint, or the request
// path when none was set.
func Endpoint(r *http.Request) string {
	if e, ok := r.Context().Value(endpointKey{}).(string); ok && e != "" {
		return e
	}
	return r.URL.Path
}

// RequestLogging tags every outbound request with X-Request-ID and logs its
// outcome. The id is taken from the context (see utils.WithRequestID) so a
// dashboard request and the API calls it triggers share one id; otherwise a
// new UUID is generated.
//
// Successful calls log at debug level, responses >= 400 at warn.
func RequestLogging() Layer {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()

			requestID := utils.GetRequestID(r.Context())
			if requestID == "" {
				requestID = uuid.New().String()
			}

			r = r.Clone(utils.WithRequestID(r.Context(), requestID))
			r.Header.Set("X-Request-ID", requestID)

			resp, err := next.RoundTrip(r)
			duration := time.Since(start)

			if err != nil {
				log.Warn().
					Err(err).
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("endpoint", Endpoint(r)).
					Dur("duration_ms", duration).
					Msg("API request failed")
				return nil, err
			}

			event := log.Debug()
			if resp.StatusCode >= 400 {
				event = log.Warn()
			}
			event.
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", resp.StatusCode).
				Dur("duration_ms", duration).
				Msg("API request completed")

			return resp, nil
		})
	}
}
