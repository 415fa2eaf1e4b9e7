// Package httputil holds JSON request and response helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds request bodies decoded by DecodeJSON.
const DefaultMaxBodyBytes = 64 << 10

// ErrorResponse is the body written for failed requests.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body. Descriptions are dropped for server errors so
// internal details never reach clients.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	resp := ErrorResponse{Error: code}
	if status < http.StatusInternalServerError {
		resp.ErrorDescription = description
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON decodes a bounded JSON request body into T, rejecting unknown fields
// and trailing data.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var out T
	if r.Body == nil {
		return out, errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, DefaultMaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("invalid json body: %w", err)
	}
	if dec.More() {
		return out, errors.New("invalid json body: trailing data")
	}
	return out, nil
}
