// Package httputil contains small HTTP helpers (e.g., JSON responses).
package httputil

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON response with the given status code and value.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
