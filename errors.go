package driftwatch

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error codes for better error handling
type ErrorCode int

const (
	// ErrCodeUnknown is used when the error doesn't fit any other category
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeTimeout is used when an external operation times out
	ErrCodeTimeout
	// ErrCodeExternal is used for errors from external collaborators (scan
	// tool, webhook endpoint)
	ErrCodeExternal
	// ErrCodePersistence is used when snapshot state cannot be written; the
	// orchestrator treats this class as fatal for the invocation
	ErrCodePersistence
	// ErrCodeValidation is used for configuration validation errors
	ErrCodeValidation
)

// AppError represents an application-specific error with context
type AppError struct {
	// Underlying error
	Err error
	// Error code for programmatic handling
	Code ErrorCode
	// Human-readable message
	Message string
	// Component where the error occurred
	Component string
	// Operation that was being performed
	Operation string
	// Target of the operation (e.g., hostname, subnet, file path)
	Target string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error
func NewAppError(err error, code ErrorCode, message, component, operation string) *AppError {
	return &AppError{
		Err:       err,
		Code:      code,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WithTarget attaches the operation target to the error
func (e *AppError) WithTarget(target string) *AppError {
	e.Target = target
	return e
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeTimeout
	}
	return false
}

// IsPersistenceError checks if an error is a fatal persistence error
func IsPersistenceError(err error) bool {
	if errors.Is(err, ErrSnapshotPersist) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodePersistence
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
