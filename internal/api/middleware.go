package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// RateLimitMiddleware creates middleware that enforces per-client rate
// limits. metrics may be nil in tests.
func RateLimitMiddleware(limiter *RateLimiter, metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)

			// Set rate limit headers (always set, even on success)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limiter.requestsPerSecond))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

			// Check rate limit
			if !limiter.Allow(client) {
				if metrics != nil {
					metrics.IncrementRateLimitHit(client)
				}
				w.WriteHeader(http.StatusTooManyRequests)
				// Handle error to satisfy gosec
				_, _ = w.Write([]byte("Rate limit exceeded"))
				return
			}

			// Continue to next handler
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr keys the limiter by remote IP, ignoring the ephemeral port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
