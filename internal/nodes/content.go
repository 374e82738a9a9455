package nodes

import (
	"context"
	"fmt"

	"github.com/rendis/socialflow/pkg/schema"
)

// DraftOutput is produced by draft_post and consumed by approve_content.
type DraftOutput struct {
	Draft string `json:"draft"`
}

type draftPostNode struct{}

func (draftPostNode) Type() string { return "draft_post" }

func (draftPostNode) Run(_ context.Context, ec ExecutionContext, input any) (any, error) {
	var in struct {
		Topic string `json:"topic"`
	}
	if err := Decode(ec, input, &in); err != nil {
		return nil, err
	}
	topic := in.Topic
	if topic == "" {
		topic = "update"
	}
	return DraftOutput{Draft: fmt.Sprintf("Draft: Sharing a quick %s update.", topic)}, nil
}

// ApprovalOutput is returned by approve_content when there is nothing to approve.
type ApprovalOutput struct {
	Approved bool   `json:"approved"`
	Draft    string `json:"draft"`
}

type approveContentNode struct{}

func (approveContentNode) Type() string { return "approve_content" }

// Run suspends the run with the incoming draft as the approval payload. An
// empty draft is approved trivially.
func (approveContentNode) Run(_ context.Context, ec ExecutionContext, input any) (any, error) {
	var in DraftOutput
	if err := Decode(ec, input, &in); err != nil {
		return nil, err
	}
	if in.Draft == "" {
		return ApprovalOutput{Approved: true, Draft: ""}, nil
	}
	payload, err := schema.Normalize(input)
	if err != nil || payload == nil {
		payload = map[string]any{"draft": in.Draft}
	}
	return nil, schema.ApprovalRequired(payload)
}
