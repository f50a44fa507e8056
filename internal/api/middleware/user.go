package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the caller's user id.
const UserIDKey contextKey = "user_id"

// DefaultUser is assumed when a request names no user. Hearth is a personal
// assistant; single-user deployments never send the header.
const DefaultUser = "local"

// UserExtractor resolves the user a request acts for from the X-User-Id
// header, then the user query parameter.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if user == "" {
			user = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if user == "" {
			user = DefaultUser
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, user)))
	})
}

// GetUserID retrieves the user id from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return DefaultUser
}
