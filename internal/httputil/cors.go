// Package httputil contains small HTTP helpers and middlewares.
package httputil

import (
	"net/http"
	"strings"
)

// CORS returns middleware that allows requests from allowedOrigin, answers
// OPTIONS preflight directly, and adds the standard CORS response headers
// on actual requests. Place it outside auth so browsers can preflight
// without credentials first.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	allowed := strings.TrimSpace(allowedOrigin)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
