package middleware

import (
	"context"
	"net/http"

	"studyhall/internal/moderation"
)

// UserHeader carries the authenticated user's email from the auth gateway
const UserHeader = "X-Studyhall-User"

type contextKey string

const userEmailKey contextKey = "user_email"

// IdentityMiddleware places the gateway-authenticated email in the request context
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if email := moderation.NormalizeEmail(r.Header.Get(UserHeader)); email != "" {
			r = r.WithContext(WithUserEmail(r.Context(), email))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserEmail returns a context carrying the acting user's email
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey, email)
}

// UserEmailFromContext returns the acting user's email, or "" if unauthenticated
func UserEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(userEmailKey).(string)
	return email
}
