// Package httputil centralizes JSON response and error envelopes so every
// handler speaks the same dialect.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error envelope. Internal errors (5xx) omit
// the description so callers never learn server-side detail.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" && status < http.StatusInternalServerError {
		body["error_description"] = description
	}
	WriteJSON(w, status, body)
}
