package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/socialflow/pkg/schema"
)

// TransitionHook observes a run status change. Before hooks may veto the
// transition by returning an error; after hooks run once the new state has
// been persisted.
type TransitionHook func(ctx context.Context, run *schema.RunRecord, from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// anyStatus registers a hook for every source or target status.
const anyStatus schema.RunStatus = "*"

// RunFSM validates run status transitions against ValidRunTransitions and
// dispatches transition hooks.
type RunFSM struct {
	mu     sync.RWMutex
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM with no hooks.
func NewRunFSM() *RunFSM {
	return &RunFSM{
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before from -> to. Use "" as a wildcard.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey(from, to)
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after from -> to has been persisted.
// Use "" as a wildcard.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey(from, to)
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to for run, runs the before hooks and sets
// the new status. The caller persists the record and then calls Committed.
func (f *RunFSM) Transition(ctx context.Context, run *schema.RunRecord, to schema.RunStatus) error {
	from := run.Status
	if !IsValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", displayStatus(from), to).
			WithRun(run.ID).
			WithDetails(map[string]any{"run_id": run.ID, "from": string(from), "to": string(to)})
	}

	for _, hook := range f.hooks(f.before, from, to) {
		if err := hook(ctx, run, from, to); err != nil {
			return err
		}
	}
	run.Status = to
	return nil
}

// Committed runs the after hooks of from -> run.Status. Hook errors are
// returned joined but never undo the transition.
func (f *RunFSM) Committed(ctx context.Context, run *schema.RunRecord, from schema.RunStatus) []error {
	var errs []error
	for _, hook := range f.hooks(f.after, from, run.Status) {
		if err := hook(ctx, run, from, run.Status); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (f *RunFSM) hooks(m map[runHookKey][]TransitionHook, from, to schema.RunStatus) []TransitionHook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []TransitionHook
	for _, key := range []runHookKey{{from, to}, {anyStatus, to}, {from, anyStatus}, {anyStatus, anyStatus}} {
		out = append(out, m[key]...)
	}
	return out
}

func hookKey(from, to schema.RunStatus) runHookKey {
	if from == "" {
		from = anyStatus
	}
	if to == "" {
		to = anyStatus
	}
	return runHookKey{from, to}
}

func displayStatus(s schema.RunStatus) string {
	if s == "" {
		return "(none)"
	}
	return string(s)
}

// IsValidRunTransition reports whether from -> to is allowed. The empty
// status stands for a run that does not exist yet.
func IsValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	return ok && slices.Contains(allowed, to)
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	"": {schema.RunStatusRunning},
	schema.RunStatusRunning: {
		schema.RunStatusCompleted, schema.RunStatusFailed,
		schema.RunStatusWaitingApproval, schema.RunStatusWaitingAction,
	},
	schema.RunStatusWaitingApproval: {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusWaitingAction:   {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted:       {},
	schema.RunStatusFailed:          {},
}
