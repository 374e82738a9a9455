// Package nodes defines the plug-in contract for workflow node types and
// the built-in node set.
package nodes

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/socialflow/pkg/schema"
)

// Node is one executable step of a workflow graph. Run receives the output
// of the previous node (or the run input for the first node) and returns
// the value piped to the next one.
//
// To suspend the run for a human decision, return schema.ApprovalRequired.
// To request external side effects, return a *schema.ActionDispatch (or an
// equivalent map tagged "action_request"/"action_batch") from the last node.
type Node interface {
	Type() string
	Run(ctx context.Context, ec ExecutionContext, input any) (any, error)
}

// Factory creates a fresh Node instance.
type Factory func() Node

// ExecutionContext is the per-node view of the running workflow.
type ExecutionContext struct {
	RunID  string
	NodeID string
	// Inputs is the static configuration from the node definition.
	Inputs map[string]any
	Logger *slog.Logger
	// Trace appends an event to the run trace. Never nil inside the engine.
	Trace func(schema.TraceEvent)
}

// Decode populates target from the node's static inputs and then from the
// piped input, so piped fields override static defaults.
func Decode(ec ExecutionContext, input any, target any) error {
	if len(ec.Inputs) > 0 {
		if err := decodeInto(ec.Inputs, target); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid static inputs: %s", err.Error()).
				WithNode(ec.NodeID).WithCause(err)
		}
	}
	if input == nil {
		return nil
	}
	if err := decodeInto(input, target); err != nil {
		return schema.NewErrorf(schema.ErrCodeNodeExecution, "unexpected input shape: %s", err.Error()).
			WithNode(ec.NodeID).WithCause(err)
	}
	return nil
}

func decodeInto(v any, target any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// Scalars and arrays piped into an object-shaped node carry no fields.
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	return json.Unmarshal(data, target)
}

// Log returns the node logger, falling back to slog.Default.
func (ec ExecutionContext) Log() *slog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return slog.Default()
}
