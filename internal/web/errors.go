package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and the request ID, then
// returned to the client as the user-facing message from core.MapError with
// its support code.

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/delivery"
	"github.com/JonMunkholm/bulkio/internal/logging"
	"github.com/JonMunkholm/bulkio/internal/schedule"
	"github.com/JonMunkholm/bulkio/internal/store"
)

var (
	errRateLimited       = errors.New("rate limit exceeded")
	errNoFile            = errors.New("no file provided")
	errFileTooLarge      = errors.New("file too large")
	errBadRequest        = errors.New("malformed request")
	errSchedulerDisabled = errors.New("scheduled exports are disabled")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message with a status
// derived from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	respondErrorJSON(w, userMsg, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func statusFor(err error) int {
	var opErr *core.OperationError
	switch {
	case errors.Is(err, core.ErrOperationNotFound),
		errors.Is(err, schedule.ErrConfigNotFound),
		errors.Is(err, schedule.ErrJobNotFound),
		errors.Is(err, delivery.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrTooManyOperations),
		errors.Is(err, errSchedulerDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &opErr),
		errors.Is(err, core.ErrUnknownEntity),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrInvalidMapping),
		errors.Is(err, core.ErrWrongKind),
		errors.Is(err, schedule.ErrInvalidConfig),
		errors.Is(err, schedule.ErrInvalidRecurrence),
		errors.Is(err, errNoFile),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// clientIP returns the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
