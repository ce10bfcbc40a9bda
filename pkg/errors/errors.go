package errors

import (
	"fmt"
	"net/http"
)

// AppError represents an error that is reported to an HTTP caller
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // Internal error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the internal error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, message, nil)
}

// BadRequest creates a 400 error
func BadRequest(message string, err error) *AppError {
	return New(http.StatusBadRequest, message, err)
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return New(http.StatusInternalServerError, message, err)
}

// BadGateway creates a 502 error for failures reported by a backend.
func BadGateway(message string, err error) *AppError {
	return New(http.StatusBadGateway, message, err)
}
