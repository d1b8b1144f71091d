package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error is already an AppError, it is returned as-is
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return Wrap(err, http.StatusInternalServerError, CodeInternal,
		fmt.Sprintf("An unexpected error occurred: %s", err.Error()))
}

// FromResponse builds an AppError from a non-2xx response of the chat API.
// body is the decoded {"error": {...}} payload, which may be empty.
func FromResponse(statusCode int, body ErrorBody) *AppError {
	code := body.Error.Code
	if code == "" {
		code = CodeTransportFailure
	}
	message := body.Error.Message
	if message == "" {
		message = fmt.Sprintf("chat API returned status %d", statusCode)
	}
	return NewError(statusCode, code, message).WithDetails(body.Error.Details)
}

// ErrorBody is the JSON error shape written by ErrorHandler
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage extracts the user-facing message
func GetErrorMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
