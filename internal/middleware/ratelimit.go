package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/commanddeck/internal/identity"
	"github.com/ashureev/commanddeck/internal/shared"
)

// RateLimit throttles requests per user, falling back to the client IP for
// requests without a resolved user. Mount it after identity.Middleware.
func RateLimit(limiter *shared.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := identity.UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + identity.IPFromRequest(r)
			}

			if !limiter.Allow(key) {
				slog.Warn("Rate limit exceeded", "key", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
