package schema

// WorkflowGraph is an ordered list of nodes executed strictly in sequence.
// The output of node i is the input of node i+1.
type WorkflowGraph struct {
	ID       string           `json:"id,omitempty" yaml:"id,omitempty"`
	Version  string           `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes    []NodeDefinition `json:"nodes" yaml:"nodes"`
	Metadata map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDefinition names a node instance and the registered type that runs it.
// Inputs are static configuration handed to the node through its
// execution context; they are distinct from the piped input.
type NodeDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// LastNodeID returns the id of the final node, or "" for an empty graph.
func (g WorkflowGraph) LastNodeID() string {
	if len(g.Nodes) == 0 {
		return ""
	}
	return g.Nodes[len(g.Nodes)-1].ID
}
