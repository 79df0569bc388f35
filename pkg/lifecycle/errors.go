package lifecycle

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Lifecycle error codes.
const (
	ErrCodeUnauthorized      = "patch.unauthorized"        // role lacks the action
	ErrCodeInvalidTransition = "patch.invalid_transition"  // edge not in the state graph
	ErrCodeSafetyGateBlocked = "patch.safety_gate_blocked" // gated promotion failed the checklist
	ErrCodeNotFound          = "patch.not_found"           // unknown patch, cluster or zone
	ErrCodeInvalidInput      = "patch.invalid_input"       // malformed request
)

var httpStatusMap = map[string]int{
	ErrCodeUnauthorized:      http.StatusForbidden,          // 403
	ErrCodeInvalidTransition: http.StatusConflict,           // 409
	ErrCodeSafetyGateBlocked: http.StatusPreconditionFailed, // 412
	ErrCodeNotFound:          http.StatusNotFound,           // 404
	ErrCodeInvalidInput:      http.StatusBadRequest,         // 400
}

// Error is returned by every Engine operation that rejects a request.
// No rejected operation has any effect on stored state.
type Error struct {
	Code        string
	Message     string
	Status      int
	FailedGates []string // set for ErrCodeSafetyGateBlocked
}

func (e *Error) Error() string {
	if len(e.FailedGates) > 0 {
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(e.FailedGates, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized      = newError(ErrCodeUnauthorized, "not permitted")
	ErrInvalidTransition = newError(ErrCodeInvalidTransition, "invalid transition")
	ErrSafetyGateBlocked = newError(ErrCodeSafetyGateBlocked, "safety gates not met")
	ErrNotFound          = newError(ErrCodeNotFound, "not found")
	ErrInvalidInput      = newError(ErrCodeInvalidInput, "invalid input")
)

func newError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
	}
}

func unauthorized(role, action fmt.Stringer) *Error {
	return newError(ErrCodeUnauthorized, fmt.Sprintf("role %s is not permitted to %s", role, action))
}

func invalidTransition(format string, args ...any) *Error {
	return newError(ErrCodeInvalidTransition, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) *Error {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

func invalidInput(format string, args ...any) *Error {
	return newError(ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

func gateBlocked(id string, failed []string) *Error {
	e := newError(ErrCodeSafetyGateBlocked, fmt.Sprintf("patch %s failed safety gates", id))
	e.FailedGates = failed
	return e
}

// ErrorCode extracts the lifecycle error code from an error.
// Returns empty string if the error is not a lifecycle Error.
func ErrorCode(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// FailedGates returns the failing gate names carried by a safety gate error.
func FailedGates(err error) []string {
	var le *Error
	if errors.As(err, &le) {
		return le.FailedGates
	}
	return nil
}
