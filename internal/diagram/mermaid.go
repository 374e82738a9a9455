package diagram

import (
	"fmt"
	"strings"
)

// statusClasses are emitted in this order, each with its classDef style.
var statusClasses = []struct{ name, style string }{
	{"completed", "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
	{"failed", "fill:#8b1a1a,stroke:#5c0e0e,color:#fff"},
	{"running", "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{"waiting", "fill:#b7791a,stroke:#8a5c14,color:#fff"},
	{"pending", "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
	{"skipped", "fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5"},
}

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders model as a Mermaid flowchart. The title goes in
// front matter; with a run overlay, nodes are grouped into status classes.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", strings.ReplaceAll(model.Title, "\n", " "))
	}
	b.WriteString("flowchart TD\n")

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNode(node))
	}
	for _, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow = "-->|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidID(e.From), arrow, mermaidID(e.To))
	}

	members := make(map[string][]string)
	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := statusClass(node.Status.Status); cls != "" {
			members[cls] = append(members[cls], mermaidID(node.ID))
		}
	}
	if len(members) == 0 {
		return b.String()
	}
	b.WriteByte('\n')
	for _, c := range statusClasses {
		if ids := members[c.name]; len(ids) > 0 {
			fmt.Fprintf(&b, "    classDef %s %s\n", c.name, c.style)
			fmt.Fprintf(&b, "    class %s %s\n", strings.Join(ids, ","), c.name)
		}
	}
	return b.String()
}

func mermaidNode(node *Node) string {
	id := mermaidID(node.ID)
	label := fmt.Sprintf("%q", strings.ReplaceAll(strings.ReplaceAll(node.Label, "\n", " "), `"`, "'"))
	switch node.Kind {
	case NodeKindApproval:
		return id + "([" + label + "])"
	case NodeKindGate:
		return id + "{" + label + "}"
	case NodeKindAction:
		return id + "[[" + label + "]]"
	case NodeKindStart, NodeKindEnd:
		return id + "((" + label + "))"
	default:
		return id + "[" + label + "]"
	}
}

func mermaidID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

func statusClass(status string) string {
	switch status {
	case StatusWaitingApproval, StatusWaitingAction:
		return "waiting"
	case StatusCompleted, StatusFailed, StatusRunning, StatusPending, StatusSkipped:
		return status
	default:
		return ""
	}
}
