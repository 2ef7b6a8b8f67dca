package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per client IP using a sliding window.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requests, window)
}

// StrictRateLimit is the 1/second ceiling applied to sensitive endpoints
// such as token issuance, registration and password reset triggers.
func StrictRateLimit() func(http.Handler) http.Handler {
	return httprate.LimitByIP(1, time.Second)
}
