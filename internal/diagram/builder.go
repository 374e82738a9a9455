package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/socialflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a graph and, optionally, a run of
// it. With a run, every node carries a status overlay derived from the
// run's trace.
func Build(graph schema.WorkflowGraph, run *schema.RunRecord) *DiagramModel {
	nodes := make([]*Node, 0, len(graph.Nodes)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	var states map[string]*StatusOverlay
	if run != nil {
		states = nodeStates(run)
	}
	for _, def := range graph.Nodes {
		node := &Node{
			ID:    def.ID,
			Label: fmt.Sprintf("%s\n(%s)", def.ID, def.Type),
			Kind:  KindOf(def.Type),
		}
		if run != nil {
			node.Status = states[def.ID]
			if node.Status == nil {
				node.Status = &StatusOverlay{Status: StatusPending}
				if run.Status.IsTerminal() {
					node.Status.Status = StatusSkipped
				}
			}
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID, Label: edgeLabel(nodes[i-1])})
	}

	return &DiagramModel{Title: title(graph, run), Nodes: nodes, Edges: edges}
}

// KindOf maps a registered node type to its diagram kind.
func KindOf(nodeType string) NodeKind {
	switch {
	case nodeType == "approve_content":
		return NodeKindApproval
	case nodeType == "policy_gate":
		return NodeKindGate
	case nodeType == "platform_action", nodeType == "publish_batch", nodeType == "batch_engage",
		strings.HasPrefix(nodeType, "xhs_"):
		return NodeKindAction
	default:
		return NodeKindTransform
	}
}

func edgeLabel(from *Node) string {
	switch from.Kind {
	case NodeKindApproval:
		return "approved"
	case NodeKindGate:
		return "pass"
	default:
		return ""
	}
}

// nodeStates replays the trace. The last event of each node wins, so a
// node re-entered on resume shows its final state. The approval gate a run
// waits on is recorded as a failed node by the engine; it is shown as
// waiting, then as decided once ApprovalDecided is seen.
func nodeStates(run *schema.RunRecord) map[string]*StatusOverlay {
	states := make(map[string]*StatusOverlay)
	started := make(map[string]schema.TraceEvent)
	var lastFailed string
	for _, ev := range run.Trace {
		switch ev.Type {
		case schema.TraceNodeStarted:
			started[ev.NodeID] = ev
			states[ev.NodeID] = &StatusOverlay{Status: openStatus(run.Status)}
		case schema.TraceNodeCompleted:
			st := &StatusOverlay{Status: StatusCompleted}
			if msg, failed := ev.NodeError(); failed {
				st.Status = StatusFailed
				st.Error = msg
				lastFailed = ev.NodeID
			}
			if s, ok := started[ev.NodeID]; ok && !s.At.IsZero() && !ev.At.IsZero() {
				st.DurationMs = ev.At.Sub(s.At).Milliseconds()
			}
			states[ev.NodeID] = st
		case schema.TraceApprovalDecided:
			if st := states[lastFailed]; st != nil {
				if ev.Approved != nil && *ev.Approved {
					st.Status, st.Error = StatusCompleted, ""
				} else {
					st.Error = schema.RejectedError
				}
			}
		}
	}

	switch run.Status {
	case schema.RunStatusWaitingApproval:
		if st := states[lastFailed]; st != nil {
			st.Status, st.Error = StatusWaitingApproval, ""
		}
	case schema.RunStatusWaitingAction:
		if st := states[run.Graph.LastNodeID()]; st != nil {
			st.Status = StatusWaitingAction
		}
	}
	return states
}

func openStatus(run schema.RunStatus) string {
	switch run {
	case schema.RunStatusWaitingApproval:
		return StatusWaitingApproval
	case schema.RunStatusWaitingAction:
		return StatusWaitingAction
	case schema.RunStatusFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

func title(graph schema.WorkflowGraph, run *schema.RunRecord) string {
	name := graph.ID
	if n, ok := graph.Metadata["name"].(string); ok && n != "" {
		name = n
	}
	if name == "" {
		name = "Workflow"
	}
	if run != nil {
		return fmt.Sprintf("%s (run %s: %s)", name, run.ID, run.Status)
	}
	return name
}
