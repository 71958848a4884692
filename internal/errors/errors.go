// Package errors provides error codes shared across the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Codes drive retry policy:
// transient codes are retried with backoff, permanent codes dead-letter
// the action immediately.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Database errors
	ErrDatabase ErrorCode = "DATABASE_ERROR"

	// Remote API errors
	ErrNetworkTransient    ErrorCode = "NETWORK_TRANSIENT"
	ErrValidationPermanent ErrorCode = "VALIDATION_PERMANENT"

	// Queue errors
	ErrQueueFull          ErrorCode = "QUEUE_FULL"
	ErrQueueRecordCorrupt ErrorCode = "QUEUE_RECORD_CORRUPT"
	ErrActionNotFound     ErrorCode = "ACTION_NOT_FOUND"
)

// AppError carries an error code alongside a message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return Is(err, ErrNetworkTransient)
}

// IsPermanent reports whether err must not be retried automatically.
func IsPermanent(err error) bool {
	return Is(err, ErrValidationPermanent)
}
