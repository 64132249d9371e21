package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"playai-relay-backend/models"
	"playai-relay-backend/playht"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error          string `json:"error"`
	Field          string `json:"field,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	UpstreamBody   string `json:"upstreamBody,omitempty"`
}

// StatusFor maps an error to the HTTP status returned to the caller.
//
//	decode error      -> 400
//	validation error  -> 422
//	upstream 429      -> 429
//	upstream non-2xx  -> 502
//	transport failure -> 502
//	deadline exceeded -> 504
func StatusFor(err error) int {
	var (
		derr *models.DecodeError
		verr *models.ValidationError
		serr *playht.StatusError
		terr *playht.TransportError
	)
	switch {
	case errors.As(err, &derr):
		return http.StatusBadRequest
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &serr):
		if serr.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &terr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the body describing err
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	var serr *playht.StatusError
	if errors.As(err, &serr) {
		resp.UpstreamStatus = serr.StatusCode
		resp.UpstreamBody = serr.Body
	}
	return resp
}

// WriteError writes err as a JSON error response. It must only be called
// before any audio byte was written.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := StatusFor(err)
	if logger != nil {
		level := zap.WarnLevel
		if status >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		logger.Check(level, "Request failed").Write(
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(err))
}
