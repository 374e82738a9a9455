package validation

import "github.com/rendis/socialflow/pkg/schema"

// Validator checks workflow graphs and action requests before they enter
// the run lifecycle. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateGraph(graph *schema.WorkflowGraph) error
	ValidateAction(req *schema.ActionRequest) error
	ValidateInput(input any, inputSchema []byte) error
}

// TypeLookup reports whether a node type is registered. *nodes.Registry
// satisfies it.
type TypeLookup interface {
	Has(typ string) bool
}

// InputSchemaKey is the graph metadata key holding an optional JSON Schema
// for the run input.
const InputSchemaKey = "inputSchema"
