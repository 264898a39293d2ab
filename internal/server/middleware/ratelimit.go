package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per client IP on a sliding window.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByAPIKey limits requests per credential, so one key cannot
// starve others sharing a NAT. Requests without an X-API-Key header fall
// back to per-IP buckets instead of pooling into a single anonymous one.
func RateLimitByAPIKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				return key, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
