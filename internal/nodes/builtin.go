package nodes

import (
	"github.com/rendis/socialflow/internal/expressions"
	"github.com/rendis/socialflow/internal/policy"
	"github.com/rendis/socialflow/pkg/schema"
)

// BuiltinDeps are the shared engines handed to built-in nodes.
type BuiltinDeps struct {
	Expr   *expressions.ExprEngine
	CEL    *expressions.CELEngine
	JQ     *expressions.GoJQEngine
	Quotas *policy.QuotaTracker
}

// DefaultBuiltinDeps builds fresh expression engines and a quota tracker.
func DefaultBuiltinDeps() (BuiltinDeps, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return BuiltinDeps{}, err
	}
	return BuiltinDeps{
		Expr:   expressions.NewExprEngine(),
		CEL:    cel,
		JQ:     expressions.NewGoJQEngine(),
		Quotas: policy.NewQuotaTracker(nil),
	}, nil
}

// RegisterBuiltins registers all built-in node types in reg.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	xhs := schema.PlatformXiaohongshu
	factories := map[string]Factory{
		"draft_post":      func() Node { return draftPostNode{} },
		"approve_content": func() Node { return approveContentNode{} },
		"policy_gate":     func() Node { return &policyGateNode{expr: deps.Expr, quotas: deps.Quotas} },
		"publish_batch":   func() Node { return publishBatchNode{} },
		"filter_feeds":    func() Node { return &filterFeedsNode{jq: deps.JQ, cel: deps.CEL} },
		"batch_engage":    func() Node { return batchEngageNode{} },
		"platform_action": func() Node { return &actionNode{typ: "platform_action", mode: schema.ModeAPI} },
		"xhs_search": func() Node {
			return &actionNode{typ: "xhs_search", platform: xhs, action: schema.ActionSearchFeeds, mode: schema.ModeAPI,
				fields: []string{"keyword", "page", "sortBy", "noteType", "baseUrl"}}
		},
		"xhs_get_detail": func() Node {
			return &actionNode{typ: "xhs_get_detail", platform: xhs, action: schema.ActionGetFeedDetail, mode: schema.ModeAPI,
				fields: []string{"feedId", "xsecToken", "baseUrl"}}
		},
		"xhs_like": func() Node {
			return &actionNode{typ: "xhs_like", platform: xhs, action: schema.ActionLikePost, mode: schema.ModeAPI,
				fields: []string{"feedId", "xsecToken", "like", "baseUrl"}}
		},
		"xhs_comment": func() Node {
			return &actionNode{typ: "xhs_comment", platform: xhs, action: schema.ActionCommentPost, mode: schema.ModeAPI,
				fields: []string{"feedId", "xsecToken", "content", "baseUrl"}}
		},
		"xhs_publish": func() Node {
			return &actionNode{typ: "xhs_publish", platform: xhs, action: schema.ActionPublishPost, mode: schema.ModeAPI,
				fields: []string{"title", "content", "images", "tags", "baseUrl"}}
		},
	}
	for typ, f := range factories {
		if err := reg.Register(typ, f); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a sealed registry holding the built-in nodes.
func NewBuiltinRegistry() (*Registry, error) {
	deps, err := DefaultBuiltinDeps()
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, deps); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}
