package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

func action(id, runID string) *schema.ActionRequest {
	return &schema.ActionRequest{
		RequestID:    id,
		UserID:       "u1",
		WorkspaceID:  "default",
		Platform:     schema.PlatformXiaohongshu,
		Action:       schema.ActionLikePost,
		Mode:         schema.ModeExtensionBrowser,
		Payload:      map[string]any{"feedId": "f1"},
		TraceContext: schema.TraceContext{RunID: runID, NodeID: "engage"},
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	dispatched []string
	resolved   []bool
}

func (o *recordingObserver) ActionDispatched(req *schema.ActionRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, req.RequestID)
}

func (o *recordingObserver) ActionResolved(_ *schema.ActionRequest, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, ok)
}

type fakeRuns struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRuns) ActionResult(_ context.Context, runID, requestID string, _ *schema.ActionResult) (*schema.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID+"/"+requestID)
	if f.err != nil {
		return nil, f.err
	}
	return &schema.RunRecord{ID: runID, Status: schema.RunStatusCompleted}, nil
}

type rejectAll struct{}

func (rejectAll) ValidateAction(*schema.ActionRequest) error {
	return schema.NewError(schema.ErrCodeValidation, "nope")
}

type capturePublisher struct {
	events []schema.TraceEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev schema.TraceEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func TestDispatch_UpsertsAndEmits(t *testing.T) {
	st := store.NewMemoryStore()
	obs := &recordingObserver{}
	d := NewDispatcher(st, WithObserver(obs))
	ctx := context.Background()

	var events []schema.TraceEvent
	emit := func(ev schema.TraceEvent) { events = append(events, ev) }

	require.NoError(t, d.Dispatch(ctx, action("a", "run-1"), emit))
	require.NoError(t, d.Dispatch(ctx, action("a", "run-1"), emit))

	require.Len(t, events, 2)
	assert.Equal(t, schema.TraceActionRequested, events[0].Type)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "a", events[0].RequestID)
	assert.Equal(t, schema.PlatformXiaohongshu, events[0].Platform)

	got, err := st.PopPendingAction(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	again, err := st.PopPendingAction(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, again, "re-dispatch must not duplicate the pending entry")
	assert.Equal(t, []string{"a", "a"}, obs.dispatched)
}

func TestDispatch_Validation(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	err := NewDispatcher(st, WithValidator(rejectAll{})).Dispatch(ctx, action("a", ""), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = NewDispatcher(st).Dispatch(ctx, action("", ""), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = NewDispatcher(st).Dispatch(ctx, nil, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestDispatch_RejectsResolvedRequest(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.SaveActionResult(ctx, &store.StoredResult{RequestID: "a", Result: schema.ActionResult{OK: true}}))

	err := NewDispatcher(st).Dispatch(ctx, action("a", ""), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestResolve_ForwardsToOwningRun(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{}
	obs := &recordingObserver{}
	ctx := context.Background()

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("a", "run-1"), nil))
	c := NewCorrelator(st, runs, WithObserver(obs))

	res, err := c.Resolve(ctx, "a", &schema.ActionResult{OK: true, PlatformPostID: "p1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Run)
	assert.Equal(t, []string{"run-1/a"}, runs.calls)
	assert.Equal(t, []bool{true}, obs.resolved)

	_, err = st.GetPendingAction(ctx, "a")
	assert.True(t, schema.IsNotFound(err), "pending entry removed")
	stored, err := st.GetActionResult(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.Result.PlatformPostID)
	assert.Equal(t, "run-1", stored.RunID)
}

func TestResolve_DuplicateIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{}
	ctx := context.Background()

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("a", "run-1"), nil))
	c := NewCorrelator(st, runs)

	_, err := c.Resolve(ctx, "a", &schema.ActionResult{OK: true}, "")
	require.NoError(t, err)

	res, err := c.Resolve(ctx, "a", &schema.ActionResult{OK: false}, "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	stored, err := st.GetActionResult(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stored.Result.OK, "first result wins")
}

func TestResolve_UnknownRequest(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{}
	c := NewCorrelator(st, runs)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "unknown-id", &schema.ActionResult{OK: true}, "")
	assert.True(t, schema.IsNotFound(err))
	assert.Empty(t, runs.calls)

	// With a run hint the result is only offered to the run.
	res, err := c.Resolve(ctx, "unknown-id", &schema.ActionResult{OK: true}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"run-1/unknown-id"}, runs.calls)

	_, err = st.GetActionResult(ctx, "unknown-id")
	assert.True(t, schema.IsNotFound(err), "hinted result is not recorded by the correlator")
}

func TestResolve_StrayHintedResultDoesNotBlockDispatch(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{err: schema.NewError(schema.ErrCodeNotWaiting, "run is completed")}
	ctx := context.Background()

	_, err := NewCorrelator(st, runs).Resolve(ctx, "b", &schema.ActionResult{OK: true}, "run-1")
	require.NoError(t, err)

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("b", "run-2"), nil))
	pa, err := st.GetPendingAction(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "run-2", pa.Request.TraceContext.RunID)
}

func TestResolve_SwallowsNotWaiting(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{err: schema.NewError(schema.ErrCodeNotWaiting, "run is completed")}
	ctx := context.Background()

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("a", "run-1"), nil))
	res, err := NewCorrelator(st, runs).Resolve(ctx, "a", &schema.ActionResult{OK: true}, "")
	require.NoError(t, err)
	assert.Nil(t, res.Run)
}

func TestResolve_PropagatesRunFailure(t *testing.T) {
	st := store.NewMemoryStore()
	runs := &fakeRuns{err: errors.New("disk full")}
	ctx := context.Background()

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("a", "run-1"), nil))
	c := NewCorrelator(st, runs)
	_, err := c.Resolve(ctx, "a", &schema.ActionResult{OK: true}, "")
	require.Error(t, err)

	// A retry re-delivers to the run even though the result is already stored.
	runs.err = nil
	res, err := c.Resolve(ctx, "a", &schema.ActionResult{OK: true}, "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, runs.calls, 2)
}

func TestResolve_DirectActionPublishes(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	ctx := context.Background()

	require.NoError(t, NewDispatcher(st).Dispatch(ctx, action("a", ""), nil))
	res, err := NewCorrelator(st, nil, WithPublisher(pub)).Resolve(ctx, "a", &schema.ActionResult{OK: true}, "")
	require.NoError(t, err)
	assert.Empty(t, res.RunID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, schema.TraceActionResultReceived, pub.events[0].Type)
	require.NotNil(t, pub.events[0].OK)
	assert.True(t, *pub.events[0].OK)
}

func TestResolve_RequiresInput(t *testing.T) {
	c := NewCorrelator(store.NewMemoryStore(), nil)
	_, err := c.Resolve(context.Background(), "", &schema.ActionResult{}, "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	_, err = c.Resolve(context.Background(), "a", nil, "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
