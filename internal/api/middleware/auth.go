package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pollenindex/pollenindex/internal/api/models"
	"github.com/pollenindex/pollenindex/internal/auth"
)

// adminIDKey is the context key for the authenticated admin subject.
type adminIDKey struct{}

// TokenValidator validates a bearer token and returns the admin subject.
type TokenValidator interface {
	ValidateAdminToken(token string) (string, error)
}

// Auth creates authentication middleware that validates admin JWT bearer tokens.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			// Check for Bearer prefix (case-insensitive)
			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := authHeader[len(bearerPrefix):]
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			adminID, err := validator.ValidateAdminToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccessTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrNotAdmin):
					writeForbidden(w, r, "admin role required")
				case errors.Is(err, auth.ErrInvalidAccessToken):
					writeUnauthorized(w, r, "invalid access token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), adminIDKey{}, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewForbidden(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetAdminID retrieves the authenticated admin subject from the context.
// Returns an empty string if not authenticated.
func GetAdminID(ctx context.Context) string {
	if id, ok := ctx.Value(adminIDKey{}).(string); ok {
		return id
	}
	return ""
}
