package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

const (
	StatusCodeSuccess = 0
	StatusCodeFailure = 1
)

// Envelope is the response body shared by every JSON endpoint.
type Envelope struct {
	Status EnvelopeStatus     `json:"status"`
	Data   interface{}        `json:"data"`
	Error  *internal.AppError `json:"error,omitempty"`
}

type EnvelopeStatus struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message"`
}

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteSuccess wraps data in a success envelope.
func (h *BaseHandler) WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	if message == "" {
		message = "Success"
	}
	h.WriteJSON(w, status, Envelope{
		Status: EnvelopeStatus{Code: StatusCodeSuccess, Message: message},
		Data:   data,
	})
}

// WriteError writes a failure envelope without an error code.
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.Logger.Error("http error", "status", status, "message", message)
	h.WriteJSON(w, status, Envelope{
		Status: EnvelopeStatus{Code: StatusCodeFailure, Message: message},
	})
}

// HandleError writes appErr with its own status code.
func (h *BaseHandler) HandleError(w http.ResponseWriter, appErr *internal.AppError) {
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "code", appErr.Code, "error", appErr.Error())
	}
	h.WriteJSON(w, status, Envelope{
		Status: EnvelopeStatus{
			Code:      StatusCodeFailure,
			ErrorCode: string(appErr.Code),
			Message:   appErr.GetDetailedMessage(),
		},
		Error: appErr,
	})
}

// HandleServiceError maps any error returned by a service. Errors that are not
// *internal.AppError become a generic 500 so internals never leak.
func (h *BaseHandler) HandleServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := internal.IsAppError(err); ok {
		h.HandleError(w, appErr)
		return
	}
	h.Logger.Error("unhandled service error", "error", err)
	h.HandleError(w, internal.NewInternalError("internal server error", err))
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return ""
	}

	return authHeader[7:]
}

// OrderIDParam reads a positive integer path parameter.
func (h *BaseHandler) OrderIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, internal.NewValidationFieldError(name, "must be a positive integer", internal.ErrCodeInvalidOrderID)
	}
	return id, nil
}
