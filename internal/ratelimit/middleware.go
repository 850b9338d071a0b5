package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a 429.
const DefaultRetryAfterSeconds = 1

// KeyFunc identifies the caller of r. An empty key skips limiting.
type KeyFunc func(r *http.Request) (key string, system bool)

// Middleware enforces limits for authenticated HTTP routes. It must run
// after authentication so that keyFunc can see the caller.
//
// Rejected requests get 429 with Retry-After and X-RateLimit-Remaining: 0.
// Allowed requests get X-RateLimit-Remaining with the tokens left.
func Middleware(limiter *RateLimiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, system := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimiter := limiter.GetLimiter(key, system)
			if !rateLimiter.Allow() {
				WriteTooManyRequests(w)
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// WriteTooManyRequests writes the standard 429 response.
func WriteTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "rate limit exceeded",
		"code":  "resource_exhausted",
	})
}
