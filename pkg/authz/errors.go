package authz

import (
	"errors"
	"fmt"
	"net/http"
)

// Authorization error codes.
const (
	ErrCodeForbidden     = "authz.forbidden"      // Policy denied access
	ErrCodeUnknownRole   = "authz.unknown_role"   // Role not in the closed set
	ErrCodeUnknownAction = "authz.unknown_action" // Action not in the closed set
)

// httpStatusMap maps error codes to HTTP status codes.
var httpStatusMap = map[string]int{
	ErrCodeForbidden:     http.StatusForbidden,  // 403
	ErrCodeUnknownRole:   http.StatusBadRequest, // 400
	ErrCodeUnknownAction: http.StatusBadRequest, // 400
}

// AuthzError represents an authorization error with a structured code.
type AuthzError struct {
	Code    string // One of the ErrCode* constants
	Message string // Human-readable error description
	Status  int    // HTTP status code
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *AuthzError) HTTPStatus() int {
	return e.Status
}

func newError(code, message string) *AuthzError {
	return &AuthzError{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
	}
}

// ErrForbidden creates an error for policy-denied access.
func ErrForbidden(reason string) *AuthzError {
	return newError(ErrCodeForbidden, reason)
}

// ErrUnknownRole creates an error for a role name outside the closed set.
func ErrUnknownRole(role string) *AuthzError {
	return newError(ErrCodeUnknownRole, fmt.Sprintf("unknown role %q", role))
}

// ErrUnknownAction creates an error for an action name outside the closed set.
func ErrUnknownAction(action string) *AuthzError {
	return newError(ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", action))
}

// ErrorCode extracts the authz error code from an error.
// Returns empty string if the error is not an AuthzError.
func ErrorCode(err error) string {
	var authzErr *AuthzError
	if errors.As(err, &authzErr) {
		return authzErr.Code
	}
	return ""
}

// IsForbidden reports whether err is or wraps a policy denial.
func IsForbidden(err error) bool {
	return ErrorCode(err) == ErrCodeForbidden
}
