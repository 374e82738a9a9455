package validation

import (
	"fmt"

	"github.com/rendis/socialflow/pkg/schema"
)

// validateSemantic checks what JSON Schema cannot express: node ids must be
// unique, and node types should be registered. An unregistered type is only
// a warning because it fails the run with UNKNOWN_NODE_TYPE when reached.
func validateSemantic(graph *schema.WorkflowGraph, types TypeLookup) *Report {
	result := &Report{}

	seen := make(map[string]int, len(graph.Nodes))
	for i, node := range graph.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if prev, dup := seen[node.ID]; dup {
			result.fail(path+".id", schema.ErrCodeValidation,
				"duplicate node id %q (first used by nodes[%d])", node.ID, prev)
		} else {
			seen[node.ID] = i
		}
		if types != nil && !types.Has(node.Type) {
			result.warn(path+".type", schema.ErrCodeUnknownNodeType,
				"node type %q is not registered", node.Type)
		}
	}
	return result
}
