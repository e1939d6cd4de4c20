package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so detailed errors still satisfy
// errors.Is against the predefined values below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy of e carrying detail
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// Common error codes
const (
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternalError = "internal_error"

	// Precondition failures raised locally by the engine; never retried.
	ErrCodeNoAdminKey         = "no_admin_key"
	ErrCodeNoAuthorizedKey    = "no_authorized_key"
	ErrCodeLastAdminKey       = "last_admin_key"
	ErrCodeAdminKeyRevoke     = "admin_key_revoke"
	ErrCodeInvalidPermissions = "invalid_permissions"
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeQuoteExpired       = "quote_expired"
	ErrCodeNoSigningMaterial  = "no_signing_material"

	// Relay outcomes
	ErrCodeRelayError          = "relay_error"
	ErrCodeCallsFailed         = "calls_failed"
	ErrCodeConfirmationTimeout = "confirmation_timeout"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrNoAdminKey = &AppError{
		Code:       ErrCodeNoAdminKey,
		Message:    "No admin key with local signing material",
		StatusCode: http.StatusPreconditionFailed,
	}

	ErrNoAuthorizedKey = &AppError{
		Code:       ErrCodeNoAuthorizedKey,
		Message:    "No authorized key found for calls",
		StatusCode: http.StatusPreconditionFailed,
	}

	ErrLastAdminKey = &AppError{
		Code:       ErrCodeLastAdminKey,
		Message:    "Cannot revoke the only WebAuthn admin key left",
		StatusCode: http.StatusConflict,
	}

	ErrAdminKeyRevoke = &AppError{
		Code:       ErrCodeAdminKeyRevoke,
		Message:    "Admin keys must be revoked with revokeAdmin",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidPermissions = &AppError{
		Code:       ErrCodeInvalidPermissions,
		Message:    "Invalid permissions request",
		StatusCode: http.StatusBadRequest,
	}

	ErrAccountNotFound = &AppError{
		Code:       ErrCodeAccountNotFound,
		Message:    "Account not found",
		StatusCode: http.StatusNotFound,
	}

	ErrQuoteExpired = &AppError{
		Code:       ErrCodeQuoteExpired,
		Message:    "Quote expired, prepare the calls again",
		StatusCode: http.StatusConflict,
	}

	ErrNoSigningMaterial = &AppError{
		Code:       ErrCodeNoSigningMaterial,
		Message:    "Key cannot be signed with locally",
		StatusCode: http.StatusPreconditionFailed,
	}

	ErrCallsFailed = &AppError{
		Code:       ErrCodeCallsFailed,
		Message:    "Call bundle failed",
		StatusCode: http.StatusBadGateway,
	}

	ErrConfirmationTimeout = &AppError{
		Code:       ErrCodeConfirmationTimeout,
		Message:    "Timed out waiting for bundle confirmation",
		StatusCode: http.StatusGatewayTimeout,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// InvalidPermissions creates an invalid permissions error
func InvalidPermissions(reason string) *AppError {
	return ErrInvalidPermissions.WithDetail(reason)
}

// RelayError wraps a relay failure for callers that need an AppError
func RelayError(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeRelayError,
		Message:    "Relay request failed",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
