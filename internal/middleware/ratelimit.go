package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound API calls with a token bucket so a busy
// dashboard cannot flood the backend. It is shared by every request made
// through one gateway client.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerSecond on average
// with bursts of up to burst requests. requestsPerSecond <= 0 disables
// limiting.
//
// Example:
//
//	rl := middleware.NewRateLimiter(10, 5)
//	rt := middleware.Chain(http.DefaultTransport, rl.Limit())
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Limit returns a Layer that waits for a token before each request. Waiting
// honors the request context; a cancelled or expired context fails the
// request without sending it.
func (rl *RateLimiter) Limit() Layer {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if rl == nil || rl.limiter == nil {
				return next.RoundTrip(r)
			}

			start := time.Now()
			if err := rl.limiter.Wait(r.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			if waited := time.Since(start); waited > 100*time.Millisecond {
				log.Debug().
					Str("endpoint", Endpoint(r)).
					Dur("waited_ms", waited).
					Msg("Outbound request throttled")
			}

			return next.RoundTrip(r)
		})
	}
}
