package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes raised by the conversation engine and the reference server
const (
	CodeTransportFailure     = "TRANSPORT_FAILURE"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeCircuitOpen          = "CIRCUIT_OPEN"
	CodeUploadFailed         = "UPLOAD_FAILED"
	CodeEmptyMessage         = "EMPTY_MESSAGE"
	CodeInvalidEvent         = "INVALID_EVENT"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// Recoverable reports whether resubmitting may succeed
func (e *AppError) Recoverable() bool {
	switch e.Code {
	case CodeTransportFailure, CodeTransportUnavailable, CodeCircuitOpen, CodeUploadFailed, CodeRateLimited:
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Wrap creates an application error around a cause
func Wrap(err error, statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		cause:      err,
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewTransportError reports a failed fallback request or network error
func NewTransportError(err error, message string) *AppError {
	return Wrap(err, http.StatusBadGateway, CodeTransportFailure, message)
}

// NewUnavailableError reports that no transport could take a message
func NewUnavailableError(message string) *AppError {
	return NewError(http.StatusServiceUnavailable, CodeTransportUnavailable, message)
}

// Is checks if err is an AppError carrying the target's code
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}

// HasCode checks if err is an AppError with the given code
func HasCode(err error, code string) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
