package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rendis/socialflow/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response: {"error": msg, "code": code}.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeErr maps err to a status through its schema code. Errors without a
// code are reported as STORE_ERROR with status 500.
func writeErr(w http.ResponseWriter, err error) {
	code := schema.CodeOf(err)
	if code == "" {
		code = schema.ErrCodeStore
	}
	msg := err.Error()
	var se *schema.Error
	if errors.As(err, &se) {
		msg = se.Message
	}
	writeError(w, statusFor(code), code, msg)
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeNotWaiting, schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeUnknownNodeType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %v", err)
	}
	return nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return n, nil
}
