// Package apperr defines the structured error taxonomy shared by all services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes
const (
	// Auth errors
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	CodeUserIdentification = "USER_IDENTIFICATION_FAILED"

	// Graph errors
	CodeGraphQuery   = "GRAPH_QUERY_ERROR"
	CodeGraphPartial = "GRAPH_PARTIAL_FAILURE"
	CodeThrottled    = "GRAPH_THROTTLED"

	// Pipeline errors
	CodeConversion = "CONVERSION_ERROR"
	CodeStorage    = "STORAGE_ERROR"

	// Dispatcher errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeToolNotFound     = "TOOL_NOT_FOUND"

	// Environment errors
	CodeDatabase = "DATABASE_ERROR"
	CodeConfig   = "CONFIG_ERROR"
)

// AppError is a structured application error carrying a stable code.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Constructors

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// AuthRequired signals that the user must re-authenticate. The session for
// the carried email is expected to be invalidated by the caller.
func AuthRequired(email, reason string) *AppError {
	return &AppError{
		Code:    CodeAuthRequired,
		Message: reason,
		Details: map[string]any{"user_email": email},
	}
}

// TokenRefreshFailed covers transient refresh failures. Persisted tokens are
// left untouched so the caller may retry.
func TokenRefreshFailed(err error) *AppError {
	return &AppError{Code: CodeTokenRefreshFailed, Message: "token refresh failed", Err: err}
}

// GraphQuery wraps a rejected $filter, malformed URL, or non-401 4xx. body is
// truncated to the first 200 bytes of the Graph error response.
func GraphQuery(url string, status int, body string) *AppError {
	if len(body) > 200 {
		body = body[:200]
	}
	return &AppError{
		Code:    CodeGraphQuery,
		Message: fmt.Sprintf("graph request failed with status %d", status),
		Details: map[string]any{"url": url, "status": status, "body": body},
	}
}

func Conversion(filename string, err error) *AppError {
	return &AppError{
		Code:    CodeConversion,
		Message: fmt.Sprintf("conversion failed for %s", filename),
		Details: map[string]any{"filename": filename},
		Err:     err,
	}
}

func Storage(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: fmt.Sprintf("storage error: %s", operation),
		Err:     err,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: message}
}

func Database(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabase,
		Message: fmt.Sprintf("database error: %s", operation),
		Err:     err,
	}
}

// Helpers

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeGraphQuery, "unexpected error")
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAuthError reports whether err indicates the stored credentials are no
// longer usable: an explicit AUTH_REQUIRED error, an invalid_grant token
// response, or a Graph 401.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeAuthRequired) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "401 unauthorized")
}

// UserEmail extracts the user_email detail from an auth error, if present.
func UserEmail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Details != nil {
		if email, ok := appErr.Details["user_email"].(string); ok {
			return email
		}
	}
	return ""
}
