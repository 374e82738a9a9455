package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
	ErrCodeApprovalRequired  = "APPROVAL_REQUIRED"
	ErrCodeNodeExecution     = "NODE_EXECUTION_ERROR"
	ErrCodeNotWaiting        = "NOT_WAITING"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeExecutor          = "EXECUTOR_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeExpired           = "EXPIRED"
)

// Error is the structured error type for all socialflow operations.
//
// Payload is only populated for APPROVAL_REQUIRED, where it carries the
// content awaiting a human decision.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithRun attaches a run ID to the error.
func (e *Error) WithRun(runID string) *Error {
	e.RunID = runID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsNotWaiting reports whether err is a NOT_WAITING error.
func IsNotWaiting(err error) bool { return HasCode(err, ErrCodeNotWaiting) }

// ApprovalRequired builds the error a node returns to suspend the run until
// a human approves payload. A nil payload is replaced by an empty object so
// the suspended run always has something to show the approver.
func ApprovalRequired(payload any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Error{
		Code:    ErrCodeApprovalRequired,
		Message: "approval required",
		Payload: payload,
	}
}

// AsApprovalRequired extracts the approval payload when err is an
// APPROVAL_REQUIRED error.
func AsApprovalRequired(err error) (any, bool) {
	var se *Error
	if errors.As(err, &se) && se.Code == ErrCodeApprovalRequired {
		return se.Payload, true
	}
	return nil, false
}
