package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/socialflow/pkg/schema"
)

const (
	graphSchemaURL  = "https://socialflow.dev/schemas/graph.json"
	actionSchemaURL = "https://socialflow.dev/schemas/action.json"
)

// graphSchemaJSON is the JSON Schema for WorkflowGraph validation.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://socialflow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "version": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "inputs": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// actionSchemaJSON is built from the known platforms, actions and modes.
func actionSchemaJSON() string {
	enum := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	return `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://socialflow.dev/schemas/action.json",
  "type": "object",
  "required": ["requestId", "userId", "platform", "action", "mode"],
  "properties": {
    "requestId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string", "minLength": 1 },
    "workspaceId": { "type": "string" },
    "platform": { "enum": ` + enum(schema.Platforms) + ` },
    "action": { "enum": ` + enum(schema.ActionTypes) + ` },
    "mode": { "enum": ` + enum(schema.ExecutionModes) + ` },
    "payload": { "type": "object" },
    "policyContext": {
      "type": "object",
      "properties": {
        "requiresApproval": { "type": "boolean" },
        "maxPostsPerDay": { "type": "integer", "minimum": 0 },
        "dmSafetyLevel": { "type": "string" }
      }
    },
    "traceContext": {
      "type": "object",
      "properties": {
        "runId": { "type": "string" },
        "nodeId": { "type": "string" }
      }
    }
  }
}`
}

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	graphSchema  *jsonschema.Schema
	actionSchema *jsonschema.Schema
	types        TypeLookup

	// mu guards the cache of dynamically compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the graph and
// action schemas pre-compiled. types may be nil; when set, unregistered node
// types are reported as warnings.
func NewJSONSchemaValidator(types TypeLookup) (*JSONSchemaValidator, error) {
	c := newCompiler()
	for url, doc := range map[string]string{
		graphSchemaURL:  graphSchemaJSON,
		actionSchemaURL: actionSchemaJSON(),
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	graphSchema, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	actionSchema, err := c.Compile(actionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}

	return &JSONSchemaValidator{
		graphSchema:  graphSchema,
		actionSchema: actionSchema,
		types:        types,
		cache:        make(map[string]*jsonschema.Schema),
	}, nil
}

// Validate runs the structural and semantic stages and returns every issue.
// Structural errors short-circuit the semantic stage.
func (v *JSONSchemaValidator) Validate(graph *schema.WorkflowGraph) *Report {
	result := &Report{}
	if graph == nil {
		result.fail("/", schema.ErrCodeValidation, "workflow graph is nil")
		return result
	}

	doc, err := toJSONValue(graph)
	if err != nil {
		result.fail("/", schema.ErrCodeValidation, "failed to serialize workflow graph: %v", err)
		return result
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		for _, violation := range violations(err) {
			result.fail("/", schema.ErrCodeValidation, "%s", violation)
		}
		return result
	}

	result.absorb(validateSemantic(graph, v.types))
	if result.Valid() {
		result.absorb(v.validateInputSchema(graph))
	}
	return result
}

// ValidateGraph returns the report as a VALIDATION_ERROR, or nil.
func (v *JSONSchemaValidator) ValidateGraph(graph *schema.WorkflowGraph) error {
	return v.Validate(graph).Err()
}

// ValidateAction checks an ActionRequest before it is dispatched.
func (v *JSONSchemaValidator) ValidateAction(req *schema.ActionRequest) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "action request is nil")
	}
	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize action request").WithCause(err)
	}
	if err := v.actionSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// validateInputSchema checks that an embedded input schema compiles.
func (v *JSONSchemaValidator) validateInputSchema(graph *schema.WorkflowGraph) *Report {
	result := &Report{}
	raw, ok := graph.Metadata[InputSchemaKey]
	if !ok {
		return result
	}
	b, err := json.Marshal(raw)
	if err != nil {
		result.fail("metadata."+InputSchemaKey, schema.ErrCodeValidation, "%v", err)
		return result
	}
	if _, err := v.getOrCompile(b); err != nil {
		result.fail("metadata."+InputSchemaKey, schema.ErrCodeValidation, "invalid input schema: %v", err)
	}
	return result
}

// InputSchema returns the graph's embedded input schema, if any.
func InputSchema(graph *schema.WorkflowGraph) []byte {
	raw, ok := graph.Metadata[InputSchemaKey]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return b
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets its own compiler and URL to avoid resource
	// collisions.
	url := fmt.Sprintf("socialflow://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every violation.
func toSchemaError(err error) *schema.Error {
	found := violations(err)
	if len(found) == 1 {
		return schema.NewError(schema.ErrCodeValidation, found[0]).
			WithDetails(map[string]any{"violations": found})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(found)).
		WithDetails(map[string]any{"violations": found})
}

func violations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	found := collectViolations(verr)
	if len(found) == 0 {
		return []string{verr.Error()}
	}
	return found
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
