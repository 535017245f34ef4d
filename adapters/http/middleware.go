package authhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fullstackkit/authcore/core"
)

type ctxKey int

const userKey ctxKey = iota

// Required rejects requests without a verifiable bearer token and stores the
// authenticated user in the request context.
func Required(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				unauthorized(w, "Missing authorization header")
				return
			}
			user, err := v.Verify(r.Context(), raw)
			if err != nil {
				slog.Warn("authentication failed", "error", err)
				unauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// Optional verifies the bearer token when one is present; requests without a
// valid token pass through anonymously.
func Optional(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r.Header.Get("Authorization")); raw != "" {
				if user, err := v.Verify(r.Context(), raw); err == nil {
					r = r.WithContext(withUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext returns the user a Required/Optional middleware stored.
func UserFromContext(ctx context.Context) (core.User, bool) {
	user, ok := ctx.Value(userKey).(core.User)
	return user, ok
}

func withUser(ctx context.Context, user core.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
