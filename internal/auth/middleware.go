package auth

import (
	"context"
	"net/http"
	"strings"
)

// ctxKey is the private context key type for the resolved user id.
type ctxKey struct{}

// UserID returns the authenticated user id stored by [Gateway.Middleware].
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// WithUserID returns a context carrying the given user id, for tests and
// internal callers that bypass HTTP.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// Middleware authenticates requests via the Authorization header
// ("Bearer <token>") and stores the resolved user id in the request context.
// Requests without a valid token are rejected with 401 before reaching the
// handler.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.ResolveIdentity(bearerToken(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthenticated"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// bearerToken extracts the token from the Authorization header, or "" when
// absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
