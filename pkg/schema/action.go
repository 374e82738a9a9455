package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Platform identifies a social platform an action targets.
type Platform string

const (
	PlatformFacebook    Platform = "facebook"
	PlatformInstagram   Platform = "instagram"
	PlatformTikTok      Platform = "tiktok"
	PlatformX           Platform = "x"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformLinkedIn    Platform = "linkedin"
)

// Platforms lists every known platform.
var Platforms = []Platform{
	PlatformFacebook, PlatformInstagram, PlatformTikTok,
	PlatformX, PlatformXiaohongshu, PlatformLinkedIn,
}

// ActionType names the side effect an action performs.
type ActionType string

const (
	ActionPublishPost    ActionType = "publish_post"
	ActionPublishVideo   ActionType = "publish_video"
	ActionSchedulePost   ActionType = "schedule_post"
	ActionSendDM         ActionType = "send_dm"
	ActionUploadMedia    ActionType = "upload_media"
	ActionResolveProfile ActionType = "resolve_profile"
	ActionLikePost       ActionType = "like_post"
	ActionCommentPost    ActionType = "comment_post"
	ActionSearchFeeds    ActionType = "search_feeds"
	ActionGetFeedDetail  ActionType = "get_feed_detail"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionPublishPost, ActionPublishVideo, ActionSchedulePost, ActionSendDM,
	ActionUploadMedia, ActionResolveProfile, ActionLikePost, ActionCommentPost,
	ActionSearchFeeds, ActionGetFeedDetail,
}

// ExecutionMode selects the executor family that performs an action.
type ExecutionMode string

const (
	ModeAPI              ExecutionMode = "api"
	ModeCloudBrowser     ExecutionMode = "cloud_browser"
	ModeExtensionBrowser ExecutionMode = "extension_browser"
)

// ExecutionModes lists every known execution mode.
var ExecutionModes = []ExecutionMode{ModeAPI, ModeCloudBrowser, ModeExtensionBrowser}

// PolicyContext carries policy hints evaluated by executors.
type PolicyContext struct {
	RequiresApproval bool   `json:"requiresApproval"`
	MaxPostsPerDay   int    `json:"maxPostsPerDay,omitempty"`
	DMSafetyLevel    string `json:"dmSafetyLevel,omitempty"`
}

// TraceContext ties an action back to the run and node that requested it.
type TraceContext struct {
	RunID  string `json:"runId"`
	NodeID string `json:"nodeId"`
}

// ActionRequest is a unit of external work emitted by a run and performed
// by an executor or agent. RequestID is the idempotency key.
type ActionRequest struct {
	RequestID     string         `json:"requestId"`
	UserID        string         `json:"userId"`
	WorkspaceID   string         `json:"workspaceId"`
	Platform      Platform       `json:"platform"`
	Action        ActionType     `json:"action"`
	Mode          ExecutionMode  `json:"mode"`
	Payload       map[string]any `json:"payload,omitempty"`
	PolicyContext PolicyContext  `json:"policyContext"`
	TraceContext  TraceContext   `json:"traceContext"`
}

// Evidence points at proof an action took effect.
type Evidence struct {
	URL                  string `json:"url,omitempty"`
	ScreenshotArtifactID string `json:"screenshotArtifactId,omitempty"`
}

// ActionError describes why an action failed.
type ActionError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ActionResult is the outcome of an ActionRequest as reported by an executor.
type ActionResult struct {
	OK                bool         `json:"ok"`
	PlatformPostID    string       `json:"platformPostId,omitempty"`
	PlatformMessageID string       `json:"platformMessageId,omitempty"`
	Evidence          *Evidence    `json:"evidence,omitempty"`
	Error             *ActionError `json:"error,omitempty"`
	Raw               any          `json:"raw,omitempty"`
}

// ErrorMessage returns the failure message, or a generic one when the
// executor reported ok=false without details.
func (r *ActionResult) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "action failed"
}

// Dispatch tags recognised on a node's output.
const (
	DispatchActionRequest = "action_request"
	DispatchActionBatch   = "action_batch"
)

// ActionDispatch is the tagged output a node returns to ask the run to
// dispatch external actions and wait for their results.
type ActionDispatch struct {
	Type    string          `json:"type"`
	Action  *ActionRequest  `json:"action,omitempty"`
	Actions []ActionRequest `json:"actions,omitempty"`
	Summary map[string]any  `json:"summary,omitempty"`
}

// Requests returns the dispatched actions in order, single action first.
func (d *ActionDispatch) Requests() []ActionRequest {
	var out []ActionRequest
	if d.Action != nil {
		out = append(out, *d.Action)
	}
	return append(out, d.Actions...)
}

// ParseActionDispatch recognises a node output tagged "action_request" or
// "action_batch". Both typed values and JSON-shaped maps are accepted.
// ok is false for plain outputs.
func ParseActionDispatch(v any) (*ActionDispatch, bool, error) {
	switch d := v.(type) {
	case nil:
		return nil, false, nil
	case *ActionDispatch:
		if d == nil {
			return nil, false, nil
		}
		return d, isDispatchTag(d.Type), nil
	case ActionDispatch:
		return &d, isDispatchTag(d.Type), nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false, nil
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || !isDispatchTag(probe.Type) {
		return nil, false, nil
	}
	var d ActionDispatch
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, true, NewErrorf(ErrCodeValidation, "malformed %s output: %s", probe.Type, err.Error()).WithCause(err)
	}
	return &d, true, nil
}

func isDispatchTag(t string) bool {
	return t == DispatchActionRequest || t == DispatchActionBatch
}

// DeriveRequestID builds a deterministic request id so dispatching the same
// logical action twice upserts the same pending entry.
func DeriveRequestID(runID, nodeID string, platform Platform, action ActionType, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s:%s:%s", runID, nodeID, platform, action, hex.EncodeToString(sum[:])[:16])
}
