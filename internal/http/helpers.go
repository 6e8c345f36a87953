package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"limit/internal/core"
)

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// callerID returns the identity the request acts as. Account-scoped routes
// default to the account itself when the header is absent.
func callerID(r *http.Request, fallback string) string {
	if caller := sanitizeInput(r.Header.Get("X-Caller-ID")); caller != "" {
		return caller
	}
	return fallback
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusForError maps the failure taxonomy onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Wrapf(core.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}
