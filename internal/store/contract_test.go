package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/pkg/schema"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRun(id string, status schema.RunStatus, created time.Time) *schema.RunRecord {
	r := &schema.RunRecord{
		ID:        id,
		Graph:     schema.WorkflowGraph{Nodes: []schema.NodeDefinition{{ID: "draft", Type: "draft_post"}}},
		Input:     map[string]any{"topic": "coffee"},
		Status:    status,
		Outputs:   map[string]any{"draft": map[string]any{"draft": "Draft: Sharing a quick coffee update."}},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
	r.Append(schema.RunStartedEvent(id, created))
	r.Append(schema.NodeStartedEvent(id, "draft", "input", created))
	if status == schema.RunStatusFailed {
		r.Error = "boom"
	}
	return r
}

func testAction(requestID, userID string) *schema.ActionRequest {
	return &schema.ActionRequest{
		RequestID:    requestID,
		UserID:       userID,
		WorkspaceID:  "default",
		Platform:     schema.PlatformX,
		Action:       schema.ActionPublishPost,
		Mode:         schema.ModeAPI,
		Payload:      map[string]any{"text": "hello"},
		TraceContext: schema.TraceContext{RunID: "run-1", NodeID: "publish"},
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := testRun("run-1", schema.RunStatusRunning, base)
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, schema.RunStatusRunning, got.Status)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "draft_post", got.Graph.Nodes[0].Type)
		assert.Equal(t, map[string]any{"topic": "coffee"}, got.Input)
		assert.Equal(t, "Draft: Sharing a quick coffee update.", got.Outputs["draft"].(map[string]any)["draft"])
		require.Len(t, got.Trace, 2)
		assert.Equal(t, schema.TraceRunStarted, got.Trace[0].Type)
		assert.Equal(t, int64(2), got.Trace[1].Seq)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("SaveRunVersioning", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := testRun("run-1", schema.RunStatusRunning, base)
		require.NoError(t, s.SaveRun(ctx, run))

		err := s.SaveRun(ctx, run)
		assert.True(t, schema.HasCode(err, schema.ErrCodeConflict), "same version twice: %v", err)

		run.Version = 3
		err = s.SaveRun(ctx, run)
		assert.True(t, schema.HasCode(err, schema.ErrCodeConflict), "skipped version: %v", err)

		run.Version = 2
		run.Status = schema.RunStatusCompleted
		run.Append(schema.RunFinishedEvent(run.ID, schema.RunStatusCompleted, "", base))
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusCompleted, got.Status)
		assert.Equal(t, int64(2), got.Version)
		require.Len(t, got.Trace, 3)
		assert.Equal(t, schema.TraceRunFinished, got.Trace[2].Type)
		require.NoError(t, got.Validate())
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveRun(ctx, testRun("a", schema.RunStatusCompleted, base)))
		require.NoError(t, s.SaveRun(ctx, testRun("b", schema.RunStatusFailed, base.Add(time.Minute))))
		require.NoError(t, s.SaveRun(ctx, testRun("c", schema.RunStatusCompleted, base.Add(2*time.Minute))))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, runIDs(all))

		completed, err := s.ListRuns(ctx, RunFilter{Statuses: []schema.RunStatus{schema.RunStatusCompleted}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a"}, runIDs(completed))

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, runIDs(limited))
		require.NotEmpty(t, limited[0].Trace)
	})

	t.Run("PendingActionsFIFOPerUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SavePendingAction(ctx, testAction("a", "u1")))
		require.NoError(t, s.SavePendingAction(ctx, testAction("b", "u1")))
		require.NoError(t, s.SavePendingAction(ctx, testAction("c", "u2")))
		// Upsert must not queue a duplicate.
		require.NoError(t, s.SavePendingAction(ctx, testAction("a", "u1")))

		got, err := s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "a", got.RequestID)
		assert.Equal(t, "hello", got.Payload["text"])

		got, err = s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", got.RequestID)

		got, err = s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.PopPendingAction(ctx, "u2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "c", got.RequestID)
	})

	t.Run("ClaimedActionStaysRetrievable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SavePendingAction(ctx, testAction("a", "u1")))
		pa, err := s.GetPendingAction(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, PendingQueued, pa.State)
		assert.Nil(t, pa.ClaimedAt)

		_, err = s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)

		pa, err = s.GetPendingAction(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, PendingClaimed, pa.State)
		assert.NotNil(t, pa.ClaimedAt)
		assert.Equal(t, "run-1", pa.Request.TraceContext.RunID)

		// Re-dispatching a claimed action keeps it claimed.
		require.NoError(t, s.SavePendingAction(ctx, testAction("a", "u1")))
		got, err := s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.DeletePendingAction(ctx, "a"))
		_, err = s.GetPendingAction(ctx, "a")
		assert.True(t, schema.IsNotFound(err))
		assert.True(t, schema.IsNotFound(s.DeletePendingAction(ctx, "a")))
	})

	t.Run("DeletedQueuedActionIsNotPopped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SavePendingAction(ctx, testAction("a", "u1")))
		require.NoError(t, s.DeletePendingAction(ctx, "a"))

		got, err := s.PopPendingAction(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ActionResults", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetActionResult(ctx, "a")
		assert.True(t, schema.IsNotFound(err))

		require.NoError(t, s.SaveActionResult(ctx, &StoredResult{
			RequestID:  "a",
			RunID:      "run-1",
			Result:     schema.ActionResult{OK: true, PlatformPostID: "p-1"},
			ReceivedAt: base,
		}))
		require.NoError(t, s.SaveActionResult(ctx, &StoredResult{
			RequestID:  "b",
			Result:     schema.ActionResult{OK: false, Error: &schema.ActionError{Type: "rate_limited", Message: "slow down", Retriable: true}},
			ReceivedAt: base.Add(time.Hour),
		}))

		got, err := s.GetActionResult(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.RunID)
		assert.True(t, got.Result.OK)
		assert.Equal(t, "p-1", got.Result.PlatformPostID)

		got, err = s.GetActionResult(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, got.RunID)
		require.NotNil(t, got.Result.Error)
		assert.True(t, got.Result.Error.Retriable)

		n, err := s.PruneActionResults(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetActionResult(ctx, "a")
		assert.True(t, schema.IsNotFound(err))
		_, err = s.GetActionResult(ctx, "b")
		assert.NoError(t, err)
	})
}

func runIDs(runs []*schema.RunRecord) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
