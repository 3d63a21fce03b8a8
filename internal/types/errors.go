package types

import "fmt"

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Handlers and services use these constants
// instead of hardcoded strings so that logs stay greppable.
const (
	// Validation
	ErrCodeValidationInvalidTimezone ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidKind     ErrorCode = "validation_invalid_interaction_kind"
	ErrCodeValidationSelfTarget      ErrorCode = "validation_self_target"

	// Not found
	ErrCodeNotFoundUser ErrorCode = "not_found_user"
	ErrCodeNotFoundJob  ErrorCode = "not_found_job"

	// Internal / infrastructure
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Upstream
	ErrCodeUpstreamDiscord ErrorCode = "upstream_discord_unavailable"
)

// AppError is the standard application error type. Domain and handler errors
// are expressed as AppError to enable consistent formatting and error chain
// support via errors.Is/errors.As.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
