// Package errors provides the error taxonomy shared by the local stores, the
// remote service adapters and the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"

	// Remote service errors
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNetwork    ErrorCode = "NETWORK_ERROR"
	ErrServer     ErrorCode = "SERVER_ERROR"

	// Sync errors
	ErrQueueExhausted      ErrorCode = "QUEUE_EXHAUSTED"
	ErrSyncInProgress      ErrorCode = "SYNC_IN_PROGRESS"
	ErrDependencyNotSynced ErrorCode = "DEPENDENCY_NOT_SYNCED"
	ErrServerIDConflict    ErrorCode = "SERVER_ID_CONFLICT"
	ErrStorageUnavailable  ErrorCode = "STORAGE_UNAVAILABLE"
)

// AppError represents an application error with code and message.
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Retryable reports whether an error is transient and worth another attempt
// after backoff. Validation errors are retryable too: the queue keeps trying
// them until the retry ceiling and then records a permanent failure.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrServer, ErrValidation:
		return true
	}
	return false
}
