package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/socialflow/internal/dispatch"
	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/internal/streaming"
	"github.com/rendis/socialflow/internal/validation"
	"github.com/rendis/socialflow/pkg/schema"
)

// DefaultNotifyWorkers bounds concurrent notification deliveries.
const DefaultNotifyWorkers = 4

// Notifier is told about runs that need a human. Delivery is best-effort:
// a failing notifier never changes run state.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, run *schema.RunRecord) error
	NotifyRunFailed(ctx context.Context, run *schema.RunRecord) error
}

// OrchestratorConfig holds the collaborators of an Orchestrator. Store and
// Nodes are required.
type OrchestratorConfig struct {
	Store store.Store
	Nodes NodeFactory
	// Validator defaults to a JSON Schema validator aware of Nodes' types.
	Validator validation.Validator
	// Hub receives every committed trace event. Defaults to a MemoryHub.
	Hub      streaming.EventHub
	Observer Observer
	Notifier Notifier
	Logger   *slog.Logger
	// IdleTimeout retires a run actor with no callers (DefaultIdleTimeout).
	IdleTimeout   time.Duration
	NotifyWorkers int
	Now           func() time.Time
}

// Orchestrator is the run lifecycle facade: it starts runs, resumes them on
// approvals and action results, and exposes the pending-action queue to
// external executors. Every mutation of a run goes through that run's actor.
type Orchestrator struct {
	store      store.Store
	engine     *Engine
	validator  validation.Validator
	hub        streaming.EventHub
	observer   Observer
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
	fsm        *RunFSM
	actors     *Supervisor
	notifyQ    *notifyQueue
	dispatcher *dispatch.Dispatcher
	correlator *dispatch.Correlator
}

// NewOrchestrator wires an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Nodes == nil {
		return nil, errors.New("orchestrator: node factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Hub == nil {
		cfg.Hub = streaming.NewMemoryHub()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = DefaultNotifyWorkers
	}
	if cfg.Validator == nil {
		types, _ := cfg.Nodes.(validation.TypeLookup)
		v, err := validation.NewJSONSchemaValidator(types)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		cfg.Validator = v
	}

	o := &Orchestrator{
		store:     cfg.Store,
		engine:    NewEngine(cfg.Nodes, WithObserver(cfg.Observer), WithClock(cfg.Now)),
		validator: cfg.Validator,
		hub:       cfg.Hub,
		observer:  cfg.Observer,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		now:       cfg.Now,
		fsm:       NewRunFSM(),
		actors:    NewSupervisor(cfg.IdleTimeout, cfg.Logger),
		notifyQ:   newNotifyQueue(cfg.NotifyWorkers, cfg.Observer, cfg.Logger),
	}
	o.dispatcher = dispatch.NewDispatcher(cfg.Store,
		dispatch.WithValidator(cfg.Validator),
		dispatch.WithObserver(cfg.Observer),
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithClock(cfg.Now))
	o.correlator = dispatch.NewCorrelator(cfg.Store, o,
		dispatch.WithObserver(cfg.Observer),
		dispatch.WithPublisher(cfg.Hub),
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithClock(cfg.Now))
	o.registerHooks()
	return o, nil
}

func (o *Orchestrator) registerHooks() {
	o.fsm.OnAfter("", "", func(_ context.Context, _ *schema.RunRecord, from, to schema.RunStatus) error {
		o.observer.RunTransition(from, to)
		return nil
	})
	if o.notifier == nil {
		return
	}
	o.fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusWaitingApproval, func(ctx context.Context, run *schema.RunRecord, _, _ schema.RunStatus) error {
		return o.notifyQ.send(ctx, NotifyApprovalRequested, run, o.notifier.NotifyApprovalRequested)
	})
	o.fsm.OnAfter("", schema.RunStatusFailed, func(ctx context.Context, run *schema.RunRecord, _, _ schema.RunStatus) error {
		return o.notifyQ.send(ctx, NotifyRunFailed, run, o.notifier.NotifyRunFailed)
	})
}

// Events returns the hub committed trace events are published to.
func (o *Orchestrator) Events() streaming.EventHub {
	return o.hub
}

// Close stops accepting run operations, waits for in-flight ones and for
// pending notifications. The store is left open.
func (o *Orchestrator) Close() {
	o.actors.Close()
	o.notifyQ.drain()
}

// StartRun creates run runID (a fresh uuid when empty) and executes graph
// against input until the run completes, fails or starts waiting. Starting
// an id that already exists returns the existing run unchanged.
func (o *Orchestrator) StartRun(ctx context.Context, graph schema.WorkflowGraph, input any, runID string) (*schema.RunRecord, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	return o.onRun(ctx, runID, func(ctx context.Context) (*schema.RunRecord, error) {
		return o.start(ctx, runID, graph, input)
	})
}

// GetRunState returns the last committed state of a run.
func (o *Orchestrator) GetRunState(ctx context.Context, runID string) (*schema.RunRecord, error) {
	rec, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, storeFailure("get run", err)
	}
	return rec, nil
}

// ListRuns returns runs matching filter, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunRecord, error) {
	runs, err := o.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, storeFailure("list runs", err)
	}
	return runs, nil
}

// Approve records a human decision on a run waiting for approval. Approving
// completes the run with the pending payload as its output; rejecting fails
// it with "rejected". Any other state is NOT_WAITING.
func (o *Orchestrator) Approve(ctx context.Context, runID string, approved bool) (*schema.RunRecord, error) {
	return o.onRun(ctx, runID, func(ctx context.Context) (*schema.RunRecord, error) {
		return o.approve(ctx, runID, approved)
	})
}

// ActionResult applies the result of requestID to the run that awaits it,
// recording the result and withdrawing the pending entry. Results for ids
// the run already resolved or never awaited leave the run untouched. A run
// not waiting on actions is NOT_WAITING.
func (o *Orchestrator) ActionResult(ctx context.Context, runID, requestID string, result *schema.ActionResult) (*schema.RunRecord, error) {
	if result == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "result is required")
	}
	return o.onRun(ctx, runID, func(ctx context.Context) (*schema.RunRecord, error) {
		return o.applyResult(ctx, runID, requestID, result)
	})
}

// Expire fails a waiting run with "expired: <reason>" and withdraws its
// queued actions.
func (o *Orchestrator) Expire(ctx context.Context, runID, reason string) (*schema.RunRecord, error) {
	return o.onRun(ctx, runID, func(ctx context.Context) (*schema.RunRecord, error) {
		return o.expire(ctx, runID, reason)
	})
}

// ReportActionResult is the executor-facing entry point: it stores result,
// clears the pending entry and forwards the result to the owning run
// (traceContext.runId, else runIDHint).
func (o *Orchestrator) ReportActionResult(ctx context.Context, requestID string, result *schema.ActionResult, runIDHint string) (*dispatch.Resolution, error) {
	if result != nil {
		normalized, err := normalizeResult(result)
		if err != nil {
			return nil, err
		}
		result = normalized
	}
	return o.correlator.Resolve(ctx, requestID, result, runIDHint)
}

// EnqueueAction dispatches an action outside any workflow. A missing
// request id is generated.
func (o *Orchestrator) EnqueueAction(ctx context.Context, req schema.ActionRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	emit := func(ev schema.TraceEvent) {
		if err := o.hub.Publish(ctx, ev); err != nil {
			o.logger.WarnContext(ctx, "publish trace event", "error", err)
		}
	}
	if err := o.dispatcher.Dispatch(ctx, &req, emit); err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// PollPendingAction pops the oldest queued action for userID, or returns
// nil when there is none. The caller must report its result.
func (o *Orchestrator) PollPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error) {
	if userID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "userId is required")
	}
	req, err := o.store.PopPendingAction(ctx, userID)
	if err != nil {
		return nil, storeFailure("pop pending action", err)
	}
	return req, nil
}

// GetActionResult returns a stored action result.
func (o *Orchestrator) GetActionResult(ctx context.Context, requestID string) (*store.StoredResult, error) {
	res, err := o.store.GetActionResult(ctx, requestID)
	if err != nil {
		return nil, storeFailure("get action result", err)
	}
	return res, nil
}

// onRun runs fn on runID's actor and returns its record. The channel is
// buffered because Do may give up on ctx before fn finishes.
func (o *Orchestrator) onRun(ctx context.Context, runID string, fn func(ctx context.Context) (*schema.RunRecord, error)) (*schema.RunRecord, error) {
	if runID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	ctx = logging.WithRunID(ctx, runID)
	out := make(chan *schema.RunRecord, 1)
	err := o.actors.Do(ctx, runID, func(ctx context.Context) error {
		rec, err := fn(ctx)
		out <- rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return <-out, nil
}

func normalizeResult(result *schema.ActionResult) (*schema.ActionResult, error) {
	out := *result
	if out.Raw != nil {
		raw, err := schema.Normalize(out.Raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "result raw is not JSON: %s", err.Error()).WithCause(err)
		}
		out.Raw = raw
	}
	return &out, nil
}

// storeFailure surfaces a backend error as STORE_ERROR, keeping structured
// errors such as NOT_FOUND and CONFLICT.
func storeFailure(op string, err error) error {
	if schema.CodeOf(err) != "" {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
