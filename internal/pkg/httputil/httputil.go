// Package httputil provides shared JSON response helpers for API handlers,
// including the mapping from the service error taxonomy to HTTP statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openlyops/newsletter-service/internal/apperr"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorResponse{Error: message})
}

// WriteError maps a classified service error to an HTTP response. Validation
// and anti-enumeration messages pass through; infrastructure causes are logged
// but never leaked to the client.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: kind.String()})
	case apperr.KindNotFound:
		JSON(w, http.StatusNotFound, ErrorResponse{Error: publicMessage(err), Code: kind.String()})
	case apperr.KindConflict:
		JSON(w, http.StatusConflict, ErrorResponse{Error: publicMessage(err), Code: kind.String()})
	case apperr.KindForbidden:
		JSON(w, http.StatusForbidden, ErrorResponse{Error: publicMessage(err), Code: kind.String()})
	default:
		logger.Error("internal error", "err", err)
		JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: kind.String()})
	}
}

// publicMessage strips wrapped causes so only the classified message reaches
// the client.
func publicMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Decode reads JSON from the request body into dst. Returns false and writes
// a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
