package middleware

import (
	"net/http"

	"github.com/pollenindex/pollenindex/internal/api/models"
)

// securityHeaders suit a JSON and event-stream API that no browser should
// frame or render. The API never asks for the browser's location itself;
// coordinates arrive in request bodies or from the device feed.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// SecurityHeaders sets the security headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range securityHeaders {
			w.Header().Set(h[0], h[1])
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects requests a load balancer marks as plain HTTP through
// X-Forwarded-Proto. Requests without the header (direct connections, local
// runs) and probe or scrape paths are let through.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proto := r.Header.Get("X-Forwarded-Proto")
			if proto == "" || proto == "https" || quietPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			problem := models.NewProblem(models.ProblemTypeTLSRequired, "TLS required", http.StatusForbidden, GetRequestID(r.Context()))
			problem.Detail = "This endpoint requires HTTPS"
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}
