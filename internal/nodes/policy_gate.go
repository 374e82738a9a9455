package nodes

import (
	"context"
	"strings"

	"github.com/rendis/socialflow/internal/expressions"
	"github.com/rendis/socialflow/internal/policy"
	"github.com/rendis/socialflow/pkg/schema"
)

type policyGateConfig struct {
	policy.Policy
	When string `json:"when"`
}

// policyGateNode checks the piped content against a policy. It passes the
// input through unchanged when the content is acceptable.
type policyGateNode struct {
	expr   *expressions.ExprEngine
	quotas *policy.QuotaTracker
}

func (n *policyGateNode) Type() string { return "policy_gate" }

func (n *policyGateNode) Run(ctx context.Context, ec ExecutionContext, input any) (any, error) {
	var cfg policyGateConfig
	if err := decodeInto(ec.Inputs, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid policy: %s", err.Error()).WithNode(ec.NodeID).WithCause(err)
	}

	normalized, err := schema.Normalize(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "policy_gate input: %s", err.Error()).WithNode(ec.NodeID)
	}

	decision := policy.Check(cfg.Policy, contentText(normalized))
	if !decision.Allowed {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "policy denied: %s", decision.Reason).WithNode(ec.NodeID)
	}

	reasons := append([]string(nil), decision.LintReasons...)
	if cfg.RequiresApproval {
		reasons = append(reasons, "policy_requires_approval")
	}

	if cfg.When != "" {
		out, err := n.expr.Evaluate(ctx, cfg.When, map[string]any{"input": normalized, "inputs": ec.Inputs})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "when: %s", err.Error()).WithNode(ec.NodeID).WithCause(err)
		}
		if expressions.Truthy(out) {
			reasons = append(reasons, "condition: "+cfg.When)
		}
	}

	if n.quotas != nil && len(cfg.Quotas) > 0 {
		if actions := actionsOf(input); len(actions) > 0 {
			if denied, d := n.quotas.ReserveAll(cfg.Policy, actions); !d.Allowed {
				return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
					"quota exceeded for %s/%s (retry after %ds)", denied.UserID, denied.Action, d.RetryAfterSec).
					WithNode(ec.NodeID)
			}
		}
	}

	if len(reasons) > 0 {
		ec.Log().Info("policy gate requires approval", "reasons", reasons)
		return nil, schema.ApprovalRequired(map[string]any{"input": normalized, "reasons": reasons})
	}

	ec.Log().Debug("policy gate pass-through")
	return input, nil
}

// contentText gathers the human-authored text from a piped value.
func contentText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		var parts []string
		for _, k := range []string{"draft", "text", "content", "title"} {
			if s, ok := t[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if p, ok := t["payload"].(map[string]any); ok {
			parts = append(parts, contentText(p))
		}
		return strings.Join(parts, "\n")
	case []any:
		var parts []string
		for _, item := range t {
			parts = append(parts, contentText(item))
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// actionsOf extracts action requests from a dispatch wrapper or a plain list.
func actionsOf(v any) []schema.ActionRequest {
	if d, ok, err := schema.ParseActionDispatch(v); ok && err == nil {
		return d.Requests()
	}
	var list []schema.ActionRequest
	if items, ok := v.([]schema.ActionRequest); ok {
		return items
	}
	normalized, err := schema.Normalize(v)
	if err != nil {
		return nil
	}
	arr, ok := normalized.([]any)
	if !ok {
		return nil
	}
	for _, item := range arr {
		var req schema.ActionRequest
		if decodeInto(item, &req) == nil && req.Action != "" {
			list = append(list, req)
		}
	}
	return list
}
