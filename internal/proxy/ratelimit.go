package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a global token-bucket limit over every
// /v1/chat/completions request, replacing the teacher's hand-rolled bucket
// with golang.org/x/time/rate.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter allowing requestsPerWindow requests
// per windowSeconds, with burst additional capacity.
func NewRateLimiter(requestsPerWindow, windowSeconds, burst int) *RateLimiter {
	r := rate.Limit(float64(requestsPerWindow) / float64(windowSeconds))
	return &RateLimiter{limiter: rate.NewLimiter(r, burst)}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// waitTime reports how long the caller must wait before a token would be
// available, without consuming it (used only to populate Retry-After).
func (rl *RateLimiter) waitTime() time.Duration {
	r := rl.limiter.Reserve()
	if !r.OK() {
		return time.Second
	}
	d := r.Delay()
	r.Cancel()
	return d
}

// RateLimitMiddleware enforces rl on /v1/chat/completions only; every other
// route passes through untouched.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow() {
				writeRateLimitError(w, rl.waitTime())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": "Request rate limit exceeded. Please slow down your requests.",
			"type":    "rate_limit_exceeded",
			"code":    "rate_limit_exceeded",
		},
	})
}
