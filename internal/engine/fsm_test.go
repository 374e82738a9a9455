package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/pkg/schema"
)

// hookRecorder records transitions seen by hooks.
type hookRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (h *hookRecorder) hook(name string) TransitionHook {
	return func(_ context.Context, _ *schema.RunRecord, from, to schema.RunStatus) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls = append(h.calls, name+":"+string(from)+"->"+string(to))
		return nil
	}
}

func (h *hookRecorder) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func TestRunFSM_ValidTransitions(t *testing.T) {
	fsm := NewRunFSM()
	ctx := context.Background()

	run := &schema.RunRecord{ID: "r1"}
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusWaitingAction))
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusCompleted))
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	fsm := NewRunFSM()
	ctx := context.Background()

	tests := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusCompleted, schema.RunStatusRunning},
		{schema.RunStatusFailed, schema.RunStatusCompleted},
		{schema.RunStatusWaitingApproval, schema.RunStatusWaitingAction},
		{schema.RunStatusWaitingAction, schema.RunStatusRunning},
		{"", schema.RunStatusCompleted},
	}
	for _, tt := range tests {
		run := &schema.RunRecord{ID: "r1", Status: tt.from}
		err := fsm.Transition(ctx, run, tt.to)
		require.Error(t, err, "%s -> %s", tt.from, tt.to)

		var se *schema.Error
		require.True(t, errors.As(err, &se))
		assert.Equal(t, schema.ErrCodeInvalidTransition, se.Code)
		assert.Equal(t, tt.from, run.Status, "status untouched on rejection")
	}
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM()
	rec := &hookRecorder{}
	fsm.OnBefore(schema.RunStatusRunning, schema.RunStatusWaitingApproval, rec.hook("before"))
	fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusWaitingApproval, rec.hook("after"))
	fsm.OnAfter("", schema.RunStatusFailed, rec.hook("any-to-failed"))
	fsm.OnAfter("", "", rec.hook("all"))

	ctx := context.Background()
	run := &schema.RunRecord{ID: "r1", Status: schema.RunStatusRunning}

	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusWaitingApproval))
	assert.Equal(t, []string{"before:running->waiting_approval"}, rec.Calls())

	assert.Empty(t, fsm.Committed(ctx, run, schema.RunStatusRunning))
	assert.Equal(t, []string{
		"before:running->waiting_approval",
		"after:running->waiting_approval",
		"all:running->waiting_approval",
	}, rec.Calls())

	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusFailed))
	fsm.Committed(ctx, run, schema.RunStatusWaitingApproval)
	assert.Contains(t, rec.Calls(), "any-to-failed:waiting_approval->failed")
}

func TestRunFSM_BeforeHookVetoes(t *testing.T) {
	fsm := NewRunFSM()
	fsm.OnBefore("", schema.RunStatusCompleted, func(context.Context, *schema.RunRecord, schema.RunStatus, schema.RunStatus) error {
		return errors.New("not yet")
	})

	run := &schema.RunRecord{ID: "r1", Status: schema.RunStatusRunning}
	err := fsm.Transition(context.Background(), run, schema.RunStatusCompleted)
	require.EqualError(t, err, "not yet")
	assert.Equal(t, schema.RunStatusRunning, run.Status)
}

func TestRunFSM_AfterHookErrorsCollected(t *testing.T) {
	fsm := NewRunFSM()
	fsm.OnAfter("", "", func(context.Context, *schema.RunRecord, schema.RunStatus, schema.RunStatus) error {
		return errors.New("notify failed")
	})
	run := &schema.RunRecord{ID: "r1", Status: schema.RunStatusCompleted}
	errs := fsm.Committed(context.Background(), run, schema.RunStatusRunning)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "notify failed")
}

func TestValidRunTransitions_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusFailed} {
		assert.Empty(t, ValidRunTransitions[s])
	}
}
