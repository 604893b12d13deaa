package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// TokenSource yields the current bearer credential. An empty string means
// there is none.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// UnauthorizedFunc is called for every 401 or 403 response with the bearer
// token that was sent, or "" when the request carried none.
type UnauthorizedFunc func(ctx context.Context, usedToken string)

// Bearer attaches "Authorization: Bearer <token>" from source to requests
// that do not already carry an Authorization header. Requests that set
// their own header (e.g. fetching the profile with a token that is not
// stored yet) are left untouched.
//
// A failing token source aborts the request rather than sending it
// unauthenticated.
func Bearer(source TokenSource) Layer {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("Authorization") != "" || source == nil {
				return next.RoundTrip(r)
			}

			token, err := source.Get(r.Context())
			if err != nil {
				return nil, fmt.Errorf("failed to read bearer token: %w", err)
			}
			if token != "" {
				r = r.Clone(r.Context())
				r.Header.Set("Authorization", "Bearer "+token)
			}

			return next.RoundTrip(r)
		})
	}
}

// Unauthorized reports 401 and 403 responses from any endpoint to
// onUnauthorized. The response is passed through unchanged; the caller still
// sees the status.
func Unauthorized(onUnauthorized UnauthorizedFunc) Layer {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(r)
			if err != nil || !rejected(resp.StatusCode) {
				return resp, err
			}

			usedToken := BearerToken(r)
			log.Debug().
				Str("endpoint", Endpoint(r)).
				Int("status", resp.StatusCode).
				Bool("had_token", usedToken != "").
				Msg("Unauthorized response received")

			if onUnauthorized != nil {
				onUnauthorized(r.Context(), usedToken)
			}
			return resp, nil
		})
	}
}

func rejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// BearerToken extracts the token from a request's Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) >= len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
