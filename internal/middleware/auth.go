// Package middleware provides the HTTP cross-cutting layers: bearer
// auth, request logging, and Prometheus metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

type contextKey string

const userKey contextKey = "authenticated_user"

// TokenVerifier resolves a raw bearer token into a user.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (model.AuthenticatedUser, error)
}

// UserFromContext returns the authenticated user set by Auth.
func UserFromContext(ctx context.Context) (model.AuthenticatedUser, bool) {
	u, ok := ctx.Value(userKey).(model.AuthenticatedUser)
	return u, ok
}

// WithUser attaches a user to the context. Exposed for handler tests.
func WithUser(ctx context.Context, user model.AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// bearerToken pulls the token out of the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Auth rejects requests without a valid bearer token and stores the
// resolved user on the request context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := verifier.Verify(r.Context(), bearerToken(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apperr.StatusOf(err))
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   apperr.MessageOf(err),
					"code":    apperr.CodeOf(err),
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
