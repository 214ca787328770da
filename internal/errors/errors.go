package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes for the billing core
const (
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeIntegrityViolation  = "INTEGRITY_VIOLATION"
	CodeDispatchFailed      = "DISPATCH_FAILED"
	CodeJobAlreadyRunning   = "JOB_ALREADY_RUNNING"
	CodeUnknownJob          = "UNKNOWN_JOB"
	CodeNotFound            = "NOT_FOUND"
)

// Predefined error types
var (
	ErrDatabaseConnection = &AppError{Code: "DB_CONNECTION_FAILED", Message: "Failed to connect to database"}
	ErrInvalidCredentials = &AppError{Code: "INVALID_CREDENTIALS", Message: "Invalid credentials"}
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "Unauthorized access"}
	ErrValidationFailed   = &AppError{Code: "VALIDATION_FAILED", Message: "Validation failed"}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidTransition marks a state-machine method called from a disallowed
// source state. The state is left unchanged by the caller.
func InvalidTransition(entity, from, action string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s %q is not allowed while %s", action, entity, from),
		Details: fmt.Sprintf("current state: %s", from),
	}
}

// ConcurrencyConflict marks an operation attempted while another was in
// flight for the same record or job.
func ConcurrencyConflict(what string) *AppError {
	return &AppError{
		Code:    CodeConcurrencyConflict,
		Message: fmt.Sprintf("concurrent operation in progress on %s", what),
	}
}

// IntegrityViolation marks a condition that must never occur under correct
// operation, such as totals not matching line items. The operation aborts
// without partial writes.
func IntegrityViolation(detail string) *AppError {
	return &AppError{
		Code:    CodeIntegrityViolation,
		Message: "billing integrity violation",
		Details: detail,
	}
}

// DispatchFailed wraps a notification delivery failure. It is logged at the
// boundary and never propagated as a billing-state error.
func DispatchFailed(err error) *AppError {
	return &AppError{
		Code:    CodeDispatchFailed,
		Message: "notification dispatch failed",
		Err:     err,
	}
}

// IsCode reports whether err is, or wraps, an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
