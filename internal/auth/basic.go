// Package auth provides middleware for HTTP Basic Authentication.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// BasicAuth returns middleware enforcing HTTP Basic Authentication against
// a single configured username and password. Callers source the
// credentials from internal/config rather than reading the environment
// directly, so a config file or a site-level override can supply them too.
func BasicAuth(user, pass string) func(http.Handler) http.Handler {
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Basic "

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, prefix) {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			dec, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authz, prefix))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(string(dec), ":", 2)
			if len(parts) != 2 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			uOK := subtle.ConstantTimeCompare([]byte(parts[0]), uBytes) == 1
			pOK := subtle.ConstantTimeCompare([]byte(parts[1]), pBytes) == 1
			if !(uOK && pOK) {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
