// Package errors provides error code definitions shared with the inspector UI.
package errors

import "fmt"

// ErrorCode is a stable code that surfaces unchanged in API responses.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Queue storage errors
	ErrStorage    ErrorCode = "STORAGE_ERROR"
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Capture errors
	ErrCapacity          ErrorCode = "CAPACITY_EXCEEDED"
	ErrCaptureInProgress ErrorCode = "CAPTURE_IN_PROGRESS"
	ErrInvalidImage      ErrorCode = "INVALID_IMAGE"

	// Sync errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrServer         ErrorCode = "SERVER_ERROR"
	ErrAuthFailed     ErrorCode = "AUTH_FAILED"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Completion errors
	ErrOffline      ErrorCode = "MUST_BE_ONLINE"
	ErrSummaryShort ErrorCode = "SUMMARY_TOO_SHORT"
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error, or ErrInternal for plain errors.
func Code(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
