// Package identity verifies bearer credentials and carries the resolved
// caller through request contexts.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/commanddeck/internal/domain"
)

type contextKey int

const (
	identityKey contextKey = iota
	userKey
)

// UserResolver resolves a verified identity to a stored user.
type UserResolver interface {
	GetOrCreateUser(ctx context.Context, identity *domain.Identity) (*domain.User, error)
}

// WithUser returns a context carrying the verified identity and its user.
func WithUser(ctx context.Context, id *domain.Identity, user *domain.User) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, userKey, user)
}

// IdentityFromContext extracts the verified identity from the request context.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	if v, ok := ctx.Value(identityKey).(*domain.Identity); ok {
		return v
	}
	return nil
}

// UserFromContext extracts the resolved user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// TokenFromRequest reads the credential from the Authorization header,
// falling back to the token query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the bearer token, syncs the user record and injects both
// into the request context. Unverified requests get 401.
func Middleware(verifier Verifier, users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.Verify(r.Context(), TokenFromRequest(r))
			if err != nil {
				slog.Debug("rejecting unauthenticated request", "path", r.URL.Path, "error", err)
				WriteUnauthorized(w, err)
				return
			}

			user, err := users.GetOrCreateUser(r.Context(), id)
			if err != nil {
				slog.Error("failed to sync user", "subject", id.Subject, "error", err)
				writeJSONError(w, http.StatusInternalServerError, `{"error":"failed to sync user"}`)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id, user)))
		})
	}
}

// WriteUnauthorized answers a failed verification with a 401 JSON body.
func WriteUnauthorized(w http.ResponseWriter, err error) {
	msg := `{"error":"invalid or expired token"}`
	if errors.Is(err, ErrMissingToken) {
		msg = `{"error":"access token required"}`
	}
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
