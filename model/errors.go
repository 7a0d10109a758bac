package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrRoutingError      = "ROUTING_ERROR"
	ErrDuplicateRequest  = "DUPLICATE_REQUEST"
	ErrTargetUnavailable = "TARGET_UNAVAILABLE"
	ErrTargetTimeout     = "TARGET_TIMEOUT"
	ErrFatalTarget       = "FATAL_TARGET_ERROR"
	ErrInternalError     = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard error type surfaced by the orchestrator.
// It implements the error interface and maps to an HTTP status at the
// transport boundary. Messages never include signing secrets or stack traces.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewRoutingError returns a ROUTING_ERROR for an unrecognized source
// classification. No write is ever performed under this error.
func NewRoutingError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRoutingError, Message: msg}
}

// NewDuplicateRequestError returns a DUPLICATE_REQUEST acknowledgment.
// Duplicates are not failures: the caller receives the original session.
func NewDuplicateRequestError(correlationID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicateRequest,
		Message: fmt.Sprintf("pipeline already running for correlation id %q", correlationID),
	}
}

// NewTargetUnavailableError returns a TARGET_UNAVAILABLE error, surfaced
// once retries exhaust or while a circuit is open.
func NewTargetUnavailableError(target string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTargetUnavailable,
		Message: fmt.Sprintf("stage target %q is temporarily unavailable", target),
	}
}

// NewTargetTimeoutError returns a TARGET_TIMEOUT error.
func NewTargetTimeoutError(target string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTargetTimeout,
		Message: fmt.Sprintf("stage target %q did not respond in time", target),
	}
}

// NewFatalTargetError returns a FATAL_TARGET_ERROR for a non-retryable
// remote rejection.
func NewFatalTargetError(target string, status int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrFatalTarget,
		Message: fmt.Sprintf("stage target %q rejected the request with status %d", target, status),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
