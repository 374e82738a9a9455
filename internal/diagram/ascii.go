package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case StatusCompleted:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusRunning:
		return "[RUN]"
	case StatusWaitingApproval:
		return "[APPROVAL]"
	case StatusWaitingAction:
		return "[ACTION]"
	case StatusPending:
		return "[PEND]"
	case StatusSkipped:
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a vertical chain of boxes.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	labels := make(map[string]string, len(model.Edges))
	for _, e := range model.Edges {
		labels[e.From] = e.Label
	}

	for i, node := range model.Nodes {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Nodes)-1 {
			renderConnector(&b, labels[node.ID])
		}
	}

	return b.String()
}

// makeBox returns the lines of an ASCII box for a node.
func makeBox(node *Node) []string {
	content := strings.Split(node.Label, "\n")
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			content = append(content, tag)
		}
		if node.Status.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
		if node.Status.Error != "" {
			content = append(content, "error: "+firstLine(node.Status.Error))
		}
	}

	maxLen := 0
	for _, line := range content {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, line := range content {
		padded := line + strings.Repeat(" ", maxLen-len([]rune(line)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return lines
}

// firstLine returns only the first line of a multi-line string.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func renderConnector(b *strings.Builder, label string) {
	if label != "" {
		fmt.Fprintf(b, "  │ %s\n", label)
	} else {
		b.WriteString("  │\n")
	}
	b.WriteString("  ▼\n")
}
