// Package identity carries the authenticated caller through request contexts.
// The upstream gateway authenticates users and forwards their ID in a header.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// UserHeaderName is the header set by the gateway.
	UserHeaderName = "X-User-ID"
	// UserQueryParam is accepted where browsers cannot set headers (websocket upgrades).
	UserQueryParam = "user_id"
)

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func sanitizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func userIDFromRequest(r *http.Request) string {
	id := r.Header.Get(UserHeaderName)
	if id == "" {
		id = r.URL.Query().Get(UserQueryParam)
	}
	return sanitizeUserID(id)
}

// Middleware rejects requests without a valid caller ID and injects it into
// the request context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r)
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"missing or invalid user identity"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
