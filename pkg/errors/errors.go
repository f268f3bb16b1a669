package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents an error code
type ErrorCode string

const (
	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Credential issuer errors
	ErrCodeCredential        ErrorCode = "CREDENTIAL_ERROR"
	ErrCodeIssuerUnreachable ErrorCode = "ISSUER_UNREACHABLE"
	ErrCodeTokenMissing      ErrorCode = "TOKEN_MISSING"

	// Transport errors
	ErrCodeTransportConnect  ErrorCode = "TRANSPORT_CONNECT_ERROR"
	ErrCodeAlreadyConnected  ErrorCode = "ALREADY_CONNECTED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeSignalingFailed   ErrorCode = "SIGNALING_FAILED"

	// Media errors
	ErrCodeMediaDevice     ErrorCode = "MEDIA_DEVICE_ERROR"
	ErrCodeNoInputDevice   ErrorCode = "NO_INPUT_DEVICE"
	ErrCodePlaybackBlocked ErrorCode = "PLAYBACK_BLOCKED"
	ErrCodeTogglePending   ErrorCode = "TOGGLE_PENDING"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// NewAppErrorf creates a new application error with formatting
func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: getHTTPStatus(code),
	}
}

// getHTTPStatus returns the HTTP status code for an error code
func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeCredential, ErrCodeTokenMissing:
		return http.StatusUnauthorized
	case ErrCodeAlreadyConnected, ErrCodeTogglePending:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConnectionTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeIssuerUnreachable, ErrCodeTransportConnect, ErrCodeSignalingFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// WrapError wraps a standard error as an AppError
func WrapError(code ErrorCode, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: getHTTPStatus(code),
		Cause:      err,
	}
}
