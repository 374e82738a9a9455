package dispatch

import (
	"context"

	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

// ResultStore is the slice of store.Store the correlator uses.
type ResultStore interface {
	GetPendingAction(ctx context.Context, requestID string) (*store.PendingAction, error)
	DeletePendingAction(ctx context.Context, requestID string) error
	SaveActionResult(ctx context.Context, res *store.StoredResult) error
	GetActionResult(ctx context.Context, requestID string) (*store.StoredResult, error)
}

// RunNotifier applies a result to the run that requested it.
// engine.Orchestrator implements it.
type RunNotifier interface {
	ActionResult(ctx context.Context, runID, requestID string, result *schema.ActionResult) (*schema.RunRecord, error)
}

// Publisher receives trace events of actions executed outside any run.
type Publisher interface {
	Publish(ctx context.Context, event schema.TraceEvent) error
}

// Resolution describes what Resolve did with a result.
type Resolution struct {
	RequestID string `json:"requestId"`
	RunID     string `json:"runId,omitempty"`
	// Duplicate is set when the result had already been recorded.
	Duplicate bool `json:"duplicate,omitempty"`
	// Run is the owning run after the result was applied, when known.
	Run *schema.RunRecord `json:"-"`
}

// Correlator matches incoming action results to their pending requests and
// forwards them to the owning run.
type Correlator struct {
	store ResultStore
	runs  RunNotifier
	options
}

// NewCorrelator creates a Correlator. runs may be nil when no run lifecycle
// is attached; results are then only stored.
func NewCorrelator(st ResultStore, runs RunNotifier, opts ...Option) *Correlator {
	return &Correlator{store: st, runs: runs, options: buildOptions(opts)}
}

// Resolve records result for requestID, removes the pending entry and
// forwards the result to the owning run (traceContext.runId, else
// runIDHint). A result delivered twice is acknowledged without effect. A
// request that is neither pending nor resolved is NOT_FOUND unless a run
// hint is given; it is then only forwarded and nothing is stored unless the
// run awaits it. NOT_WAITING from the run is logged and swallowed.
func (c *Correlator) Resolve(ctx context.Context, requestID string, result *schema.ActionResult, runIDHint string) (*Resolution, error) {
	if requestID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "requestId is required")
	}
	if result == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "result is required")
	}
	ctx = logging.WithRequestID(ctx, requestID)

	pending, err := c.store.GetPendingAction(ctx, requestID)
	if err != nil && !schema.IsNotFound(err) {
		return nil, storeError("get pending action", err)
	}

	res := &Resolution{RequestID: requestID, RunID: runIDHint}
	var req *schema.ActionRequest
	if pending != nil {
		req = &pending.Request
		if req.TraceContext.RunID != "" {
			res.RunID = req.TraceContext.RunID
		}
	} else {
		existing, err := c.store.GetActionResult(ctx, requestID)
		switch {
		case err == nil:
			res.Duplicate = true
			if existing.RunID != "" {
				res.RunID = existing.RunID
			}
			c.logger.InfoContext(ctx, "duplicate action result ignored", "run_id", res.RunID)
			// Forward again: the run treats a known result as a no-op, and
			// this completes a delivery interrupted after the result was saved.
			return res, c.forward(ctx, res, &existing.Result)
		case !schema.IsNotFound(err):
			return nil, storeError("get action result", err)
		case res.RunID == "":
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown action request %q", requestID)
		}
		// Unknown request: the hinted run stores the result only if it
		// awaits the id, so a stray report cannot block a later dispatch.
		return res, c.forward(ctx, res, result)
	}

	if err := c.store.SaveActionResult(ctx, &store.StoredResult{
		RequestID:  requestID,
		RunID:      res.RunID,
		Result:     *result,
		ReceivedAt: c.now().UTC(),
	}); err != nil {
		return nil, storeError("save action result", err)
	}
	if pending != nil {
		if err := c.store.DeletePendingAction(ctx, requestID); err != nil && !schema.IsNotFound(err) {
			return nil, storeError("delete pending action", err)
		}
	}
	c.observer.ActionResolved(req, result.OK)

	if res.RunID == "" {
		// Run-owned results are traced by the run itself.
		if c.publisher != nil {
			_ = c.publisher.Publish(ctx, schema.ActionResultReceivedEvent("", requestID, result, c.now().UTC()))
		}
		c.logger.InfoContext(ctx, "direct action resolved", "ok", result.OK)
		return res, nil
	}
	return res, c.forward(ctx, res, result)
}

func (c *Correlator) forward(ctx context.Context, res *Resolution, result *schema.ActionResult) error {
	if c.runs == nil || res.RunID == "" {
		return nil
	}
	ctx = logging.WithRunID(ctx, res.RunID)
	run, err := c.runs.ActionResult(ctx, res.RunID, res.RequestID, result)
	switch {
	case err == nil:
		res.Run = run
		return nil
	case schema.IsNotWaiting(err), schema.IsNotFound(err):
		c.logger.WarnContext(ctx, "action result not applied to run", "error", err)
		return nil
	default:
		return err
	}
}
