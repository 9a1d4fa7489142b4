package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/iprop"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeValidation    = "validation_error"
	ErrCodeUnit          = "unit_error"
	ErrCodeCommunication = "communication_error"
	ErrCodeInstrument    = "instrument_error"
	ErrCodeTimeout       = "timeout"
	ErrCodeInternal      = "internal_error"
	ErrCodeUnavailable   = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writePipelineError maps a property pipeline error onto an HTTP response.
//
// Caller mistakes (unknown path, bad value, wrong unit) map to 4xx;
// instrument and wire failures map to 5xx so clients can tell the
// difference between their request being wrong and the bench being down.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, instrument.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, iprop.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, iprop.ErrUnit):
		writeError(w, http.StatusBadRequest, ErrCodeUnit, err.Error())
	case errors.Is(err, iprop.ErrNotReadable), errors.Is(err, iprop.ErrNotWritable):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, iprop.ErrCommunication):
		writeError(w, http.StatusBadGateway, ErrCodeCommunication, err.Error())
	case errors.Is(err, iprop.ErrInstrument):
		writeError(w, http.StatusBadGateway, ErrCodeInstrument, err.Error())
	case errors.Is(err, iprop.ErrConfiguration):
		writeInternalError(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
