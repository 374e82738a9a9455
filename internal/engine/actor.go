package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/internal/validation"
	"github.com/rendis/socialflow/pkg/schema"
)

// The functions in this file run on a run's actor goroutine and are the
// only code that mutates a RunRecord.

// mutation is an actor's working copy of one run.
type mutation struct {
	rec *schema.RunRecord
	// from is the status last persisted.
	from schema.RunStatus
	// published counts trace events already sent to the hub.
	published int
}

func (o *Orchestrator) load(ctx context.Context, runID string) (*mutation, error) {
	rec, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, storeFailure("get run", err)
	}
	return &mutation{rec: rec, from: rec.Status, published: len(rec.Trace)}, nil
}

// commit validates and persists the working copy, publishes its new trace
// events and runs the after-transition hooks.
func (o *Orchestrator) commit(ctx context.Context, m *mutation) error {
	rec := m.rec
	rec.Version++
	rec.UpdatedAt = o.now().UTC()
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := o.store.SaveRun(ctx, rec); err != nil {
		return storeFailure("save run", err)
	}

	for _, ev := range rec.Trace[m.published:] {
		if err := o.hub.Publish(ctx, ev); err != nil {
			o.logger.WarnContext(ctx, "publish trace event", "seq", ev.Seq, "error", err)
		}
	}
	m.published = len(rec.Trace)

	if m.from != rec.Status {
		for _, err := range o.fsm.Committed(ctx, rec, m.from) {
			o.logger.WarnContext(ctx, "transition hook failed", "from", m.from, "to", rec.Status, "error", err)
		}
		m.from = rec.Status
	}
	return nil
}

func (o *Orchestrator) stamp() *time.Time {
	t := o.now().UTC()
	return &t
}

func (o *Orchestrator) start(ctx context.Context, runID string, graph schema.WorkflowGraph, input any) (*schema.RunRecord, error) {
	existing, err := o.store.GetRun(ctx, runID)
	switch {
	case err == nil:
		o.logger.InfoContext(ctx, "run already exists", "status", existing.Status)
		return existing, nil
	case !schema.IsNotFound(err):
		return nil, storeFailure("get run", err)
	}

	if err := o.validator.ValidateGraph(&graph); err != nil {
		return nil, err
	}
	normalized, err := schema.Normalize(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "input is not JSON: %s", err.Error()).WithCause(err)
	}
	if err := o.validator.ValidateInput(normalized, validation.InputSchema(&graph)); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	m := &mutation{rec: &schema.RunRecord{
		ID:        runID,
		Graph:     graph,
		Input:     normalized,
		CreatedAt: now,
	}}
	if err := o.fsm.Transition(ctx, m.rec, schema.RunStatusRunning); err != nil {
		return nil, err
	}
	m.rec.Append(schema.RunStartedEvent(runID, now))
	if err := o.commit(ctx, m); err != nil {
		return nil, err
	}
	o.observer.RunStarted()
	o.logger.InfoContext(ctx, "run started", "nodes", len(graph.Nodes))

	outputs, execErr := o.engine.Execute(ctx, graph, normalized, RunContext{
		RunID:  runID,
		Logger: o.logger.With("run_id", runID),
		Trace:  func(ev schema.TraceEvent) { m.rec.Append(ev) },
	})
	o.settle(ctx, m, outputs, execErr)

	if err := o.commit(ctx, m); err != nil {
		// The stored record still reads running; its actions must not run.
		o.withdraw(ctx, m.rec.AwaitingActionIDs)
		o.logger.ErrorContext(ctx, "persist settled run",
			"run_id", runID, "status", m.rec.Status, "error", err)
		return nil, err
	}
	o.logger.InfoContext(ctx, "run settled", "status", m.rec.Status)
	return m.rec, nil
}

// settle computes the status a run reaches once the engine returns.
func (o *Orchestrator) settle(ctx context.Context, m *mutation, outputs map[string]any, execErr error) {
	rec := m.rec
	normalized, err := schema.Normalize(outputs)
	if err != nil {
		o.finish(ctx, m, schema.RunStatusFailed, "outputs are not JSON: "+err.Error())
		return
	}
	rec.Outputs, _ = normalized.(map[string]any)

	if execErr != nil {
		if payload, ok := schema.AsApprovalRequired(execErr); ok {
			o.awaitApproval(ctx, m, payload)
			return
		}
		o.finish(ctx, m, schema.RunStatusFailed, errorMessage(execErr))
		return
	}

	last := rec.Outputs[rec.Graph.LastNodeID()]
	d, ok, err := schema.ParseActionDispatch(last)
	if err != nil {
		o.finish(ctx, m, schema.RunStatusFailed, errorMessage(err))
		return
	}
	if !ok {
		o.finish(ctx, m, schema.RunStatusCompleted, "")
		return
	}
	o.dispatchActions(ctx, m, d.Requests())
}

func (o *Orchestrator) awaitApproval(ctx context.Context, m *mutation, payload any) {
	normalized, err := schema.Normalize(payload)
	if err != nil {
		o.finish(ctx, m, schema.RunStatusFailed, "approval payload is not JSON: "+err.Error())
		return
	}
	if normalized == nil {
		normalized = map[string]any{}
	}
	if err := o.fsm.Transition(ctx, m.rec, schema.RunStatusWaitingApproval); err != nil {
		o.finish(ctx, m, schema.RunStatusFailed, errorMessage(err))
		return
	}
	m.rec.PendingApproval = normalized
	m.rec.WaitingSince = o.stamp()
}

// dispatchActions hands every request to the dispatcher in output order and
// waits on the distinct request ids. An empty batch completes the run.
func (o *Orchestrator) dispatchActions(ctx context.Context, m *mutation, reqs []schema.ActionRequest) {
	rec := m.rec
	nodeID := rec.Graph.LastNodeID()
	batch := make([]*schema.ActionRequest, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		req.TraceContext.RunID = rec.ID
		if req.TraceContext.NodeID == "" {
			req.TraceContext.NodeID = nodeID
		}
		if req.RequestID == "" {
			req.RequestID = schema.DeriveRequestID(rec.ID, req.TraceContext.NodeID, req.Platform, req.Action, req.Payload)
		}
		if seen[req.RequestID] {
			continue
		}
		seen[req.RequestID] = true
		// Nothing is queued until the whole batch is valid.
		if err := o.validator.ValidateAction(req); err != nil {
			o.finish(ctx, m, schema.RunStatusFailed, fmt.Sprintf("dispatch action %s: %s", req.RequestID, errorMessage(err)))
			return
		}
		batch = append(batch, req)
	}

	var awaiting []string
	for _, req := range batch {
		if err := o.dispatcher.Dispatch(ctx, req, func(ev schema.TraceEvent) { rec.Append(ev) }); err != nil {
			o.withdraw(ctx, awaiting)
			o.finish(ctx, m, schema.RunStatusFailed, fmt.Sprintf("dispatch action %s: %s", req.RequestID, errorMessage(err)))
			return
		}
		awaiting = append(awaiting, req.RequestID)
	}

	if len(awaiting) == 0 {
		o.finish(ctx, m, schema.RunStatusCompleted, "")
		return
	}
	if err := o.fsm.Transition(ctx, rec, schema.RunStatusWaitingAction); err != nil {
		o.withdraw(ctx, awaiting)
		o.finish(ctx, m, schema.RunStatusFailed, errorMessage(err))
		return
	}
	rec.AwaitingActionIDs = awaiting
	rec.WaitingSince = o.stamp()
	o.logger.InfoContext(ctx, "run waiting on actions", "actions", len(awaiting))
}

// withdraw removes pending entries of a batch the run will not wait on.
func (o *Orchestrator) withdraw(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := o.store.DeletePendingAction(ctx, id); err != nil && !schema.IsNotFound(err) {
			o.logger.ErrorContext(ctx, "withdraw pending action", "request_id", id, "error", err)
		}
	}
}

// finish moves the run to a terminal status and closes its trace.
func (o *Orchestrator) finish(ctx context.Context, m *mutation, to schema.RunStatus, errMsg string) {
	rec := m.rec
	if err := o.fsm.Transition(ctx, rec, to); err != nil {
		// Only a before hook can refuse a terminal transition.
		to = schema.RunStatusFailed
		errMsg = errorMessage(err)
		rec.Status = to
	}
	rec.PendingApproval = nil
	rec.AwaitingActionIDs = nil
	rec.WaitingSince = nil
	rec.Error = ""
	if to == schema.RunStatusFailed {
		if errMsg == "" {
			errMsg = "run failed"
		}
		rec.Error = errMsg
	}
	rec.Append(schema.RunFinishedEvent(rec.ID, to, rec.Error, o.now().UTC()))
}

func (o *Orchestrator) approve(ctx context.Context, runID string, approved bool) (*schema.RunRecord, error) {
	m, err := o.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec := m.rec
	if rec.Status != schema.RunStatusWaitingApproval {
		return nil, notWaiting(rec, schema.RunStatusWaitingApproval)
	}

	rec.Append(schema.ApprovalDecidedEvent(runID, approved, o.now().UTC()))
	if approved {
		rec.Outputs = map[string]any{schema.ApprovedPayloadKey: rec.PendingApproval}
		o.finish(ctx, m, schema.RunStatusCompleted, "")
	} else {
		o.finish(ctx, m, schema.RunStatusFailed, schema.RejectedError)
	}
	if err := o.commit(ctx, m); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "approval decided", "approved", approved, "status", rec.Status)
	return rec, nil
}

func (o *Orchestrator) applyResult(ctx context.Context, runID, requestID string, result *schema.ActionResult) (*schema.RunRecord, error) {
	m, err := o.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec := m.rec
	if _, seen := rec.ActionResults[requestID]; seen {
		o.logger.DebugContext(ctx, "action result already applied", "request_id", requestID)
		return rec, nil
	}
	if rec.Status != schema.RunStatusWaitingAction {
		return nil, notWaiting(rec, schema.RunStatusWaitingAction)
	}
	if !rec.IsAwaiting(requestID) {
		o.logger.InfoContext(ctx, "result for unknown action ignored", "request_id", requestID)
		return rec, nil
	}

	result, err = normalizeResult(result)
	if err != nil {
		return nil, err
	}
	if err := o.settleAction(ctx, runID, requestID, result); err != nil {
		return nil, err
	}
	rec.Append(schema.ActionResultReceivedEvent(runID, requestID, result, o.now().UTC()))
	if rec.ActionResults == nil {
		rec.ActionResults = make(map[string]*schema.ActionResult)
	}
	rec.ActionResults[requestID] = result
	rec.AwaitingActionIDs = slices.DeleteFunc(slices.Clone(rec.AwaitingActionIDs), func(id string) bool {
		return id == requestID
	})

	if len(rec.AwaitingActionIDs) == 0 {
		if id, failed := firstFailure(rec); failed != nil {
			o.finish(ctx, m, schema.RunStatusFailed, fmt.Sprintf("action %s failed: %s", id, failed.ErrorMessage()))
		} else {
			o.finish(ctx, m, schema.RunStatusCompleted, "")
		}
	}
	if err := o.commit(ctx, m); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "action result applied",
		"request_id", requestID, "ok", result.OK, "remaining", len(rec.AwaitingActionIDs), "status", rec.Status)
	return rec, nil
}

// settleAction records result and withdraws the pending entry of requestID
// so an executor cannot claim the action again.
func (o *Orchestrator) settleAction(ctx context.Context, runID, requestID string, result *schema.ActionResult) error {
	if err := o.store.SaveActionResult(ctx, &store.StoredResult{
		RequestID:  requestID,
		RunID:      runID,
		Result:     *result,
		ReceivedAt: o.now().UTC(),
	}); err != nil {
		return storeFailure("save action result", err)
	}
	pending, err := o.store.GetPendingAction(ctx, requestID)
	if schema.IsNotFound(err) {
		// Already withdrawn by the correlator.
		return nil
	}
	if err != nil {
		return storeFailure("get pending action", err)
	}
	if err := o.store.DeletePendingAction(ctx, requestID); err != nil && !schema.IsNotFound(err) {
		return storeFailure("delete pending action", err)
	}
	o.observer.ActionResolved(&pending.Request, result.OK)
	return nil
}

func (o *Orchestrator) expire(ctx context.Context, runID, reason string) (*schema.RunRecord, error) {
	m, err := o.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec := m.rec
	if !rec.Status.IsWaiting() {
		return nil, schema.NewErrorf(schema.ErrCodeNotWaiting, "run %s is %s, not waiting", runID, rec.Status).WithRun(runID)
	}

	for _, id := range rec.AwaitingActionIDs {
		if err := o.store.DeletePendingAction(ctx, id); err != nil && !schema.IsNotFound(err) {
			return nil, storeFailure("delete pending action", err)
		}
	}
	if reason == "" {
		reason = "no response while " + string(rec.Status)
	}
	o.finish(ctx, m, schema.RunStatusFailed, "expired: "+reason)
	if err := o.commit(ctx, m); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "run expired", "reason", reason)
	return rec, nil
}

// firstFailure returns the first failed result in dispatch order.
func firstFailure(rec *schema.RunRecord) (string, *schema.ActionResult) {
	for _, id := range dispatchOrder(rec) {
		if res := rec.ActionResults[id]; res != nil && !res.OK {
			return id, res
		}
	}
	return "", nil
}

// dispatchOrder lists the run's request ids in the order they were requested.
func dispatchOrder(rec *schema.RunRecord) []string {
	var ids []string
	for _, ev := range rec.Trace {
		if ev.Type == schema.TraceActionRequested && !slices.Contains(ids, ev.RequestID) {
			ids = append(ids, ev.RequestID)
		}
	}
	var rest []string
	for id := range rec.ActionResults {
		if !slices.Contains(ids, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(ids, rest...)
}

func notWaiting(rec *schema.RunRecord, want schema.RunStatus) error {
	return schema.NewErrorf(schema.ErrCodeNotWaiting, "run %s is %s, not %s", rec.ID, rec.Status, want).
		WithRun(rec.ID).
		WithDetails(map[string]any{"status": string(rec.Status), "expected": string(want)})
}
