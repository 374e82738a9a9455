package diagram

import "fmt"

// NodeKind classifies a diagram node by the role of its node type.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindApproval  NodeKind = "approval"
	NodeKindGate      NodeKind = "gate"
	NodeKindTransform NodeKind = "transform"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Node statuses shown on a diagram.
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusWaitingApproval = "waiting_approval"
	StatusWaitingAction   = "waiting_action"
	StatusSkipped         = "skipped"
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are in execution order, bracketed by virtual start and end nodes.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge links two consecutive nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Render renders model in format: "mermaid" (the default) or "ascii".
func Render(model *DiagramModel, format string) (string, error) {
	switch format {
	case "", "mermaid":
		return RenderMermaid(model), nil
	case "ascii":
		return RenderASCII(model), nil
	default:
		return "", fmt.Errorf("unknown diagram format %q (want mermaid or ascii)", format)
	}
}
