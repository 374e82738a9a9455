package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/internal/nodes"
	"github.com/rendis/socialflow/pkg/schema"
)

// NodeFactory creates node instances by type. *nodes.Registry satisfies it.
type NodeFactory interface {
	Create(typ string) (nodes.Node, error)
}

// RunContext is the run-scoped state shared by every node of one execution.
type RunContext struct {
	RunID  string
	Logger *slog.Logger
	// Trace appends an event to the run trace.
	Trace func(schema.TraceEvent)
}

// Engine walks a workflow graph strictly in order, piping each node's
// output into the next node.
type Engine struct {
	factory  NodeFactory
	observer Observer
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver reports node timings to o.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides time.Now for trace timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine resolving node types through factory.
func NewEngine(factory NodeFactory, opts ...EngineOption) *Engine {
	e := &Engine{factory: factory, observer: NopObserver{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every node of graph in order. It returns the outputs of the
// nodes that completed; on failure the outputs gathered so far are returned
// together with the error and no later node runs. Errors are never retried.
func (e *Engine) Execute(ctx context.Context, graph schema.WorkflowGraph, input any, rc RunContext) (map[string]any, error) {
	outputs := make(map[string]any, len(graph.Nodes))
	trace := rc.Trace
	if trace == nil {
		trace = func(schema.TraceEvent) {}
	}
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	last := input
	for i, def := range graph.Nodes {
		if err := ctx.Err(); err != nil {
			return outputs, schema.NewErrorf(schema.ErrCodeNodeExecution, "run interrupted before node %d: %s", i, err.Error()).
				WithNode(def.ID).WithCause(err)
		}

		node, err := e.factory.Create(def.Type)
		if err != nil {
			return outputs, withNode(err, def.ID)
		}

		nctx := logging.WithNodeID(ctx, def.ID)
		ec := nodes.ExecutionContext{
			RunID:  rc.RunID,
			NodeID: def.ID,
			Inputs: def.Inputs,
			Logger: logger.With(slog.String("node_id", def.ID), slog.String("node_type", def.Type)),
			Trace:  trace,
		}

		inputRef := "input"
		if i > 0 {
			inputRef = schema.OutputRef(graph.Nodes[i-1].ID)
		}
		trace(schema.NodeStartedEvent(rc.RunID, def.ID, inputRef, e.now()))

		start := e.now()
		out, err := runNode(nctx, node, ec, last)
		e.observer.NodeFinished(def.Type, e.now().Sub(start), err)

		if err != nil {
			err = withNode(err, def.ID)
			trace(schema.NodeFailedEvent(rc.RunID, def.ID, errorMessage(err), e.now()))
			if _, approval := schema.AsApprovalRequired(err); approval {
				logger.InfoContext(nctx, "node requested approval")
			} else {
				logger.WarnContext(nctx, "node failed", "error", err)
			}
			return outputs, err
		}

		outputs[def.ID] = out
		trace(schema.NodeCompletedEvent(rc.RunID, def.ID, schema.OutputRef(def.ID), e.now()))
		last = out
	}
	return outputs, nil
}

// runNode invokes a node, turning a panic into an ordinary failure.
func runNode(ctx context.Context, node nodes.Node, ec nodes.ExecutionContext, input any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeNodeExecution, "node panicked: %v", r)
		}
	}()
	return node.Run(ctx, ec, input)
}

// withNode tags err with the failing node. Plain errors become
// NODE_EXECUTION_ERROR; structured errors keep their code.
func withNode(err error, nodeID string) error {
	var se *schema.Error
	if errors.As(err, &se) {
		if se.NodeID == "" {
			se.NodeID = nodeID
		}
		return err
	}
	return schema.NewError(schema.ErrCodeNodeExecution, err.Error()).WithNode(nodeID).WithCause(err)
}

// errorMessage is the human-readable text recorded on a failed run.
func errorMessage(err error) string {
	var se *schema.Error
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fmt.Sprint(err)
}
