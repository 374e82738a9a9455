package nodes

import (
	"context"

	"github.com/rendis/socialflow/pkg/schema"
)

// Defaults applied to actions built by nodes when the workflow omits them.
const (
	DefaultUserID      = "system"
	DefaultWorkspaceID = "default"
)

type publishBatchNode struct{}

func (publishBatchNode) Type() string { return "publish_batch" }

// Run wraps the piped action list (or a single action) into a dispatch
// request. It never performs the side effects itself.
func (publishBatchNode) Run(_ context.Context, ec ExecutionContext, input any) (any, error) {
	normalized, err := schema.Normalize(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "publish_batch input: %s", err.Error()).WithNode(ec.NodeID)
	}

	var items []any
	switch v := normalized.(type) {
	case nil:
	case []any:
		items = v
	default:
		items = []any{v}
	}

	actions := make([]schema.ActionRequest, 0, len(items))
	for i, item := range items {
		var req schema.ActionRequest
		if err := decodeInto(item, &req); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "publish_batch item %d: %s", i, err.Error()).WithNode(ec.NodeID)
		}
		actions = append(actions, completeAction(ec, req))
	}
	ec.Log().Info("publish batch dispatch", "count", len(actions))
	return &schema.ActionDispatch{Type: schema.DispatchActionRequest, Actions: actions}, nil
}

// actionConfig is the shared input of single-action nodes.
type actionConfig struct {
	UserID      string               `json:"userId"`
	WorkspaceID string               `json:"workspaceId"`
	Platform    schema.Platform      `json:"platform"`
	Action      schema.ActionType    `json:"action"`
	Mode        schema.ExecutionMode `json:"mode"`
	Payload     map[string]any       `json:"payload"`
	Approval    bool                 `json:"requiresApproval"`
}

// actionNode emits one ActionRequest. Fixed platform/action values bind the
// node to a single platform operation; otherwise they come from inputs.
type actionNode struct {
	typ      string
	platform schema.Platform
	action   schema.ActionType
	mode     schema.ExecutionMode
	// fields copied from the decoded input into the payload
	fields []string
}

func (n *actionNode) Type() string { return n.typ }

func (n *actionNode) Run(_ context.Context, ec ExecutionContext, input any) (any, error) {
	var cfg actionConfig
	if err := Decode(ec, input, &cfg); err != nil {
		return nil, err
	}
	if n.platform != "" {
		cfg.Platform = n.platform
	}
	if n.action != "" {
		cfg.Action = n.action
	}
	if cfg.Mode == "" {
		cfg.Mode = n.mode
	}
	if cfg.Platform == "" || cfg.Action == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "platform and action are required").WithNode(ec.NodeID)
	}

	payload := map[string]any{}
	for k, v := range cfg.Payload {
		payload[k] = v
	}
	if len(n.fields) > 0 {
		src := mergedInputs(ec, input)
		for _, f := range n.fields {
			if v, ok := src[f]; ok && v != nil {
				payload[f] = v
			}
		}
	}

	req := completeAction(ec, schema.ActionRequest{
		UserID:        cfg.UserID,
		WorkspaceID:   cfg.WorkspaceID,
		Platform:      cfg.Platform,
		Action:        cfg.Action,
		Mode:          cfg.Mode,
		Payload:       payload,
		PolicyContext: schema.PolicyContext{RequiresApproval: cfg.Approval},
	})
	ec.Log().Info("action requested", "platform", req.Platform, "action", req.Action, "request_id", req.RequestID)
	return &schema.ActionDispatch{Type: schema.DispatchActionRequest, Action: &req}, nil
}

// completeAction fills the defaults and trace context of an action built
// inside a run and derives a deterministic request id when none is given.
func completeAction(ec ExecutionContext, req schema.ActionRequest) schema.ActionRequest {
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = DefaultWorkspaceID
	}
	if req.Mode == "" {
		req.Mode = schema.ModeAPI
	}
	req.TraceContext = schema.TraceContext{RunID: ec.RunID, NodeID: ec.NodeID}
	if req.RequestID == "" {
		req.RequestID = schema.DeriveRequestID(ec.RunID, ec.NodeID, req.Platform, req.Action, req.Payload)
	}
	return req
}

// mergedInputs overlays the normalized piped input on the static inputs.
func mergedInputs(ec ExecutionContext, input any) map[string]any {
	merged := make(map[string]any, len(ec.Inputs))
	for k, v := range ec.Inputs {
		merged[k] = v
	}
	if normalized, err := schema.Normalize(input); err == nil {
		if m, ok := normalized.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
	}
	return merged
}
