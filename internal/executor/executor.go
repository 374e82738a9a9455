// Package executor is the action-execution boundary: it turns an
// ActionRequest into a platform side effect and reports an ActionResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rendis/socialflow/pkg/schema"
)

// Executor performs one action. A returned error means the action could not
// be carried out; a result with OK=false means the platform refused it.
type Executor interface {
	Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error)

func (f Func) Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
	return f(ctx, req)
}

// ExecutorError is a failure at the execution boundary. Retriable marks
// failures worth another attempt (transport errors, 5xx, open circuits).
type ExecutorError struct {
	Type      string
	Message   string
	Retriable bool
	// Status is the HTTP status that produced the error, when there was one.
	Status int
	Cause  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", schema.ErrCodeExecutor, e.Type, e.Message)
}

func (e *ExecutorError) Unwrap() error { return e.Cause }

// Retriable reports whether err is worth retrying. Cancellation never is;
// deadlines and network errors are; ExecutorErrors say so themselves.
func Retriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ee *ExecutorError
	if errors.As(err, &ee) {
		return ee.Retriable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ToActionResult converts an execution error into the ok=false result that
// is reported back to the orchestrator.
func ToActionResult(err error) *schema.ActionResult {
	if err == nil {
		return &schema.ActionResult{OK: true}
	}
	ae := &schema.ActionError{Type: "executor_error", Message: err.Error(), Retriable: Retriable(err)}
	var ee *ExecutorError
	if errors.As(err, &ee) {
		ae.Type = ee.Type
		ae.Message = ee.Message
	}
	return &schema.ActionResult{OK: false, Error: ae}
}

// Unavailable is an Executor for a mode with no implementation in this
// process. The failure is retriable so another executor may pick it up.
func Unavailable(mode schema.ExecutionMode) Executor {
	return Func(func(context.Context, *schema.ActionRequest) (*schema.ActionResult, error) {
		return nil, &ExecutorError{
			Type:      "not_implemented",
			Message:   fmt.Sprintf("%s executor not available", mode),
			Retriable: true,
		}
	})
}
