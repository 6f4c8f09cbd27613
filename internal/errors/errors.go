package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"

	// Validation
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired     ErrorCode = "MISSING_REQUIRED"
	ErrCodeUnknownParticipant  ErrorCode = "UNKNOWN_PARTICIPANT"
	ErrCodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"

	// Resource
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeSessionNotFoundOrEnded ErrorCode = "SESSION_NOT_FOUND_OR_ENDED"
	ErrCodeConflict               ErrorCode = "CONFLICT"
	ErrCodeGameDisabled           ErrorCode = "GAME_DISABLED"

	// Request size
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Upstream
	ErrCodeUpstream ErrorCode = "UPSTREAM_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func fieldDetails(field string) map[string]string {
	return map[string]string{"field": field}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

// InvalidCredential carries the same message for unknown, revoked and
// malformed credentials.
func InvalidCredential() *AppError {
	return New(ErrCodeInvalidCredential, "Invalid credential")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func SessionNotFoundOrEnded() *AppError {
	return New(ErrCodeSessionNotFoundOrEnded, "Session not found or already ended")
}

func GameDisabled() *AppError {
	return New(ErrCodeGameDisabled, "Game is disabled")
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func PayloadTooLarge() *AppError {
	return New(ErrCodePayloadTooLarge, "Request body too large")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason)).
		WithDetails(fieldDetails(field))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field)).
		WithDetails(fieldDetails(field))
}

func UnknownParticipant(cause error) *AppError {
	return Wrap(ErrCodeUnknownParticipant, "participantId does not reference a known participant", cause).
		WithDetails(fieldDetails("participantId"))
}

func UnsupportedProvider(name string) *AppError {
	return New(ErrCodeUnsupportedProvider, fmt.Sprintf("Unsupported provider: %s", name)).
		WithDetails(fieldDetails("provider"))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Upstream(provider string, cause error) *AppError {
	return Wrap(ErrCodeUpstream, fmt.Sprintf("AI provider error: %s", provider), cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
