// Package errors provides the structured API error type and the uniform
// error response shape. Services never produce HTTP responses themselves;
// the transport layer converts their typed errors here, once.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"

	"keyforge/internal/services"
)

// APIError represents a structured API error
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"-"`
	Message    string `json:"message"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// Predefined errors for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "invalid request format")
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "resource not found")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
)

// NewValidationError creates a 400 error with the given message
func NewValidationError(message string) *APIError {
	return New(http.StatusBadRequest, "VALIDATION_FAILED", message)
}

// NewInternalError creates a 500 error with the given message
func NewInternalError(message string) *APIError {
	return New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message)
}

// FromService translates a typed service error into an APIError. This is the
// single place where the service error taxonomy maps to HTTP status codes.
func FromService(err error) *APIError {
	switch services.KindOf(err) {
	case services.KindInvalidArgument:
		return New(http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case services.KindNotFound:
		return New(http.StatusNotFound, "NOT_FOUND", err.Error())
	case services.KindGenerationExhausted:
		return New(http.StatusInternalServerError, "GENERATION_EXHAUSTED", err.Error())
	case services.KindStoreFailure:
		return New(http.StatusInternalServerError, "STORE_FAILURE", err.Error())
	default:
		return NewInternalError(err.Error())
	}
}

// ErrorResponse is the uniform error body: {"success": false, "error": "..."}.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`

	apiError *APIError
}

// NewErrorResponse creates an error response for the given APIError
func NewErrorResponse(err *APIError, traceID string) *ErrorResponse {
	return &ErrorResponse{
		Success:  false,
		Error:    err.Message,
		TraceID:  traceID,
		apiError: err,
	}
}

// Render implements the render.Renderer interface for chi/render
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.apiError.StatusCode)
	return nil
}

// WriteError writes an error response directly, for paths outside the
// render pipeline (middleware, panic recovery).
func WriteError(w http.ResponseWriter, err *APIError, traceID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(NewErrorResponse(err, traceID))
}
