package diagram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/pkg/schema"
)

func publishGraph() schema.WorkflowGraph {
	return schema.WorkflowGraph{
		ID:       "publish",
		Metadata: map[string]any{"name": "Launch post"},
		Nodes: []schema.NodeDefinition{
			{ID: "draft", Type: "draft_post"},
			{ID: "review", Type: "approve_content"},
			{ID: "gate", Type: "policy_gate"},
			{ID: "publish", Type: "publish_batch"},
		},
	}
}

func waitingRun() *schema.RunRecord {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &schema.RunRecord{
		ID:     "run-1",
		Status: schema.RunStatusWaitingApproval,
		Trace: []schema.TraceEvent{
			schema.RunStartedEvent("run-1", t0),
			schema.NodeStartedEvent("run-1", "draft", "input", t0),
			schema.NodeCompletedEvent("run-1", "draft", schema.OutputRef("draft"), t0.Add(25*time.Millisecond)),
			schema.NodeStartedEvent("run-1", "review", schema.OutputRef("draft"), t0.Add(30*time.Millisecond)),
		},
	}
}

func TestBuildWithoutRun(t *testing.T) {
	model := Build(publishGraph(), nil)

	assert.Equal(t, "Launch post", model.Title)
	require.Len(t, model.Nodes, 6)
	assert.Equal(t, startID, model.Nodes[0].ID)
	assert.Equal(t, endID, model.Nodes[5].ID)
	assert.Equal(t, NodeKindApproval, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindGate, model.Nodes[3].Kind)
	assert.Equal(t, NodeKindAction, model.Nodes[4].Kind)
	for _, n := range model.Nodes {
		assert.Nil(t, n.Status)
	}

	require.Len(t, model.Edges, 5)
	assert.Equal(t, Edge{From: "review", To: "gate", Label: "approved"}, model.Edges[2])
	assert.Equal(t, Edge{From: "gate", To: "publish", Label: "pass"}, model.Edges[3])
}

func TestBuildOverlaysRunStatus(t *testing.T) {
	model := Build(publishGraph(), waitingRun())

	assert.Contains(t, model.Title, "run-1")
	byID := map[string]*Node{}
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	require.NotNil(t, byID["draft"].Status)
	assert.Equal(t, StatusCompleted, byID["draft"].Status.Status)
	assert.Equal(t, int64(25), byID["draft"].Status.DurationMs)
	assert.Equal(t, StatusWaitingApproval, byID["review"].Status.Status)
	assert.Equal(t, StatusPending, byID["gate"].Status.Status)
	assert.Equal(t, StatusPending, byID["publish"].Status.Status)
}

func TestBuildShowsNodeFailure(t *testing.T) {
	at := time.Now()
	run := &schema.RunRecord{
		ID:     "run-2",
		Status: schema.RunStatusFailed,
		Trace: []schema.TraceEvent{
			schema.NodeStartedEvent("run-2", "draft", "input", at),
			schema.NodeFailedEvent("run-2", "draft", "topic too long", at),
		},
	}
	model := Build(publishGraph(), run)

	draft := model.Nodes[1]
	require.NotNil(t, draft.Status)
	assert.Equal(t, StatusFailed, draft.Status.Status)
	assert.Equal(t, "topic too long", draft.Status.Error)
}

func approvalTrace(t0 time.Time) []schema.TraceEvent {
	return []schema.TraceEvent{
		schema.NodeStartedEvent("run-3", "draft", "input", t0),
		schema.NodeCompletedEvent("run-3", "draft", schema.OutputRef("draft"), t0),
		schema.NodeStartedEvent("run-3", "review", schema.OutputRef("draft"), t0),
		schema.NodeFailedEvent("run-3", "review", "[APPROVAL_REQUIRED] awaiting approval", t0),
	}
}

func TestBuildApprovalLifecycle(t *testing.T) {
	t0 := time.Now()

	t.Run("waiting", func(t *testing.T) {
		run := &schema.RunRecord{ID: "run-3", Status: schema.RunStatusWaitingApproval, Trace: approvalTrace(t0)}
		review := Build(publishGraph(), run).Nodes[2]
		assert.Equal(t, StatusWaitingApproval, review.Status.Status)
		assert.Empty(t, review.Status.Error)
	})

	t.Run("approved", func(t *testing.T) {
		trace := append(approvalTrace(t0), schema.ApprovalDecidedEvent("run-3", true, t0))
		run := &schema.RunRecord{ID: "run-3", Status: schema.RunStatusCompleted, Trace: trace}
		model := Build(publishGraph(), run)
		assert.Equal(t, StatusCompleted, model.Nodes[2].Status.Status)
		assert.Equal(t, StatusSkipped, model.Nodes[3].Status.Status)
	})

	t.Run("rejected", func(t *testing.T) {
		trace := append(approvalTrace(t0), schema.ApprovalDecidedEvent("run-3", false, t0))
		run := &schema.RunRecord{ID: "run-3", Status: schema.RunStatusFailed, Trace: trace}
		review := Build(publishGraph(), run).Nodes[2]
		assert.Equal(t, StatusFailed, review.Status.Status)
		assert.Equal(t, schema.RejectedError, review.Status.Error)
	})
}

func TestBuildWaitingAction(t *testing.T) {
	graph := schema.WorkflowGraph{Nodes: []schema.NodeDefinition{
		{ID: "search", Type: "xhs_search"},
		{ID: "like", Type: "batch_engage"},
	}}
	at := time.Now()
	run := &schema.RunRecord{
		ID:     "run-4",
		Status: schema.RunStatusWaitingAction,
		Trace: []schema.TraceEvent{
			schema.NodeStartedEvent("run-4", "search", "input", at),
			schema.NodeCompletedEvent("run-4", "search", schema.OutputRef("search"), at),
			schema.NodeStartedEvent("run-4", "like", schema.OutputRef("search"), at),
			schema.NodeCompletedEvent("run-4", "like", schema.OutputRef("like"), at),
		},
	}
	model := Build(graph, run)

	assert.Equal(t, "Workflow (run run-4: waiting_action)", model.Title)
	assert.Equal(t, StatusCompleted, model.Nodes[1].Status.Status)
	assert.Equal(t, StatusWaitingAction, model.Nodes[2].Status.Status)
	assert.Contains(t, RenderASCII(model), "[ACTION]")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, NodeKindAction, KindOf("xhs_like"))
	assert.Equal(t, NodeKindAction, KindOf("platform_action"))
	assert.Equal(t, NodeKindTransform, KindOf("filter_feeds"))
	assert.Equal(t, NodeKindTransform, KindOf("something_else"))
}

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(Build(publishGraph(), waitingRun()))

	assert.Contains(t, output, "title: Launch post (run run-1: waiting_approval)")
	assert.Contains(t, output, "flowchart TD")
	assert.Contains(t, output, "__start__((")
	assert.Contains(t, output, "review([")
	assert.Contains(t, output, "gate{")
	assert.Contains(t, output, "publish[[")
	assert.Contains(t, output, "review -->|approved| gate")
	assert.Contains(t, output, "class draft completed")
	assert.Contains(t, output, "class review waiting")
	assert.Contains(t, output, "class gate,publish pending")
}

func TestRenderASCII(t *testing.T) {
	output := RenderASCII(Build(publishGraph(), waitingRun()))

	assert.Contains(t, output, "=== Launch post")
	assert.Contains(t, output, "┌")
	assert.Contains(t, output, "┘")
	assert.Contains(t, output, "draft")
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "25ms")
	assert.Contains(t, output, "[APPROVAL]")
	assert.Contains(t, output, "[PEND]")
	assert.Contains(t, output, "│ approved")
}

func TestRender(t *testing.T) {
	model := Build(publishGraph(), nil)

	out, err := Render(model, "")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart TD")

	out, err = Render(model, "ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "Start")

	_, err = Render(model, "svg")
	assert.Error(t, err)
}
