package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// envelope is the body of every REST response.
type envelope struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data, Timestamp: time.Now().UTC()})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Status: "error", Message: message, ErrorCode: code, Timestamp: time.Now().UTC()})
}

// writeError maps err onto a status and error code. Internal details of
// server-side faults are logged, not returned.
func writeError(w http.ResponseWriter, log *logging.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeFailure(w, status, code, msg)
}

// classify maps domain faults onto HTTP statuses and stable error codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrTurnTimeout):
		return http.StatusGatewayTimeout, "TURN_TIMEOUT"
	case errors.Is(err, domain.ErrCanceled):
		return http.StatusRequestTimeout, "CANCELED"
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// errorShape is the WebSocket rendition of classify.
func errorShape(err error) ErrorShape {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return ErrorShape{
		Code:      code,
		Message:   msg,
		Retryable: status == http.StatusGatewayTimeout || status == http.StatusBadGateway,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

const maxBodyBytes = 1 << 20
