package handlers

import (
	"encoding/json"
	"net/http"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendJSONError maps err to a status code and writes it. Provider bodies and
// causes are logged, never returned.
func (h *Handlers) sendJSONError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	status := statusFor(err)
	errType := errors.GetType(err)

	logger := h.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error(logMsg, err, logging.Int("status", status))
	} else {
		logger.Warn(logMsg, logging.Err(err), logging.Int("status", status))
	}

	message := http.StatusText(status)
	if appErr, ok := errors.As(err); ok && (status < http.StatusInternalServerError || status == http.StatusBadGateway) {
		message = appErr.Message
	}

	h.sendJSONResponse(w, status, ErrorResponse{Error: message, Type: string(errType)})
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeHTTP, errors.ErrTypeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
