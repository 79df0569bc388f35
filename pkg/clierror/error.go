// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gobeyondidentity/shm/pkg/lifecycle"
)

// Exit codes returned by shmctl.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitAuth     = 2 // Role is not permitted the action
	ExitGate     = 3 // Safety gates not met
	ExitNotFound = 4 // Resource doesn't exist
	ExitInput    = 5 // Malformed flags or arguments
	ExitConflict = 6 // Transition not allowed from the current state
)

// Error codes (strings) for programmatic error handling
const (
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeSafetyGateBlocked = "SAFETY_GATE_BLOCKED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePatchNotFound     = "PATCH_NOT_FOUND"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Hint        string   `json:"hint,omitempty"`
	FailedGates []string `json:"failed_gates,omitempty"`
	Retryable   bool     `json:"retryable"`
	ExitCode    int      `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NotAuthorized creates an error for a role that lacks an action.
func NotAuthorized(role, action string) *CLIError {
	return &CLIError{
		Code:      CodeNotAuthorized,
		Message:   fmt.Sprintf("role '%s' is not permitted to %s", role, action),
		Hint:      "Re-run with --role set to a role that holds this permission",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// SafetyGateBlocked creates an error for a promotion refused by the checklist.
func SafetyGateBlocked(id string, failed []string) *CLIError {
	return &CLIError{
		Code:        CodeSafetyGateBlocked,
		Message:     fmt.Sprintf("patch '%s' failed safety gates: %s", id, strings.Join(failed, ", ")),
		Hint:        fmt.Sprintf("Inspect the checklist with 'shmctl gates %s'", id),
		FailedGates: failed,
		Retryable:   false,
		ExitCode:    ExitGate,
	}
}

// InvalidTransition creates an error for a transition outside the state graph.
func InvalidTransition(detail string) *CLIError {
	return &CLIError{
		Code:      CodeInvalidTransition,
		Message:   detail,
		Hint:      "Check the current stage with 'shmctl patch show <id>'",
		Retryable: false,
		ExitCode:  ExitConflict,
	}
}

// PatchNotFound creates an error when a patch doesn't exist.
func PatchNotFound(id string) *CLIError {
	return &CLIError{
		Code:      CodePatchNotFound,
		Message:   fmt.Sprintf("patch '%s' not found", id),
		Hint:      "Check patch ids with 'shmctl patch list'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// NotFound creates an error for any other missing resource.
func NotFound(detail string) *CLIError {
	return &CLIError{
		Code:      CodeNotFound,
		Message:   detail,
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// InvalidInput creates an error for malformed arguments.
func InvalidInput(detail string) *CLIError {
	return &CLIError{
		Code:      CodeInvalidInput,
		Message:   detail,
		Hint:      "Run the command with --help for usage",
		Retryable: false,
		ExitCode:  ExitInput,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Hint:      "",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromError converts any error returned by a command into a CLIError.
// Lifecycle errors keep their meaning; anything else is internal.
func FromError(err error) *CLIError {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}

	var le *lifecycle.Error
	if !errors.As(err, &le) {
		return InternalError(err)
	}
	switch le.Code {
	case lifecycle.ErrCodeUnauthorized:
		return &CLIError{
			Code:     CodeNotAuthorized,
			Message:  le.Message,
			Hint:     "Re-run with --role set to a role that holds this permission",
			ExitCode: ExitAuth,
		}
	case lifecycle.ErrCodeSafetyGateBlocked:
		out := SafetyGateBlocked("", le.FailedGates)
		out.Message = fmt.Sprintf("%s: %s", le.Message, strings.Join(le.FailedGates, ", "))
		out.Hint = "Inspect the checklist with 'shmctl gates <id>'"
		return out
	case lifecycle.ErrCodeInvalidTransition:
		return InvalidTransition(le.Message)
	case lifecycle.ErrCodeNotFound:
		return NotFound(le.Message)
	case lifecycle.ErrCodeInvalidInput:
		return InvalidInput(le.Message)
	default:
		return InternalError(err)
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	// Human-readable table format
	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
