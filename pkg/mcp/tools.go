package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

const defaultListRunsLimit = 20

// handleStartRun starts a run and records the calling session as its owner.
func (s *Server) handleStartRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var graph schema.WorkflowGraph
	if err := decodeArg(req, "graph", &graph); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var input any
	if raw, ok := req.GetArguments()["input"]; ok {
		input = raw
	}
	runID := req.GetString("run_id", "")
	if runID == "" {
		runID = uuid.NewString()
	}

	// The session is bound before the run starts: an approval notice can be
	// sent before StartRun returns.
	captured := s.captureSession(ctx, runID)
	rec, err := s.orch.StartRun(ctx, graph, input, runID)
	if err != nil {
		if captured {
			s.sessions.Forget(runID)
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(rec)
}

func (s *Server) handleRunState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	rec, err := s.orch.GetRunState(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(rec)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.RunFilter{Limit: req.GetInt("limit", defaultListRunsLimit)}
	if raw := req.GetString("status", ""); raw != "" {
		st := schema.RunStatus(raw)
		if !st.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", raw)), nil
		}
		filter.Statuses = []schema.RunStatus{st}
	}
	runs, err := s.orch.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []*schema.RunRecord{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *Server) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	approved, err := req.RequireBool("approved")
	if err != nil {
		return mcp.NewToolResultError("approved is required"), nil
	}
	rec, err := s.orch.Approve(ctx, runID, approved)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(rec)
}

func (s *Server) handleReportActionResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError("request_id is required"), nil
	}
	var result schema.ActionResult
	if err := decodeArg(req, "result", &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.orch.ReportActionResult(ctx, requestID, &result, req.GetString("run_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := map[string]any{"ok": true, "duplicate": res.Duplicate}
	if res.RunID != "" {
		out["runId"] = res.RunID
	}
	if res.Run != nil {
		out["status"] = res.Run.Status
	}
	return marshalResult(out)
}

func (s *Server) handleEnqueueAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var action schema.ActionRequest
	if err := decodeArg(req, "action", &action); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.orch.EnqueueAction(ctx, action)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(map[string]string{"requestId": id})
}

func (s *Server) handlePollAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	action, err := s.orch.PollPendingAction(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if action == nil {
		return marshalResult(map[string]any{"pending": false})
	}
	return marshalResult(map[string]any{"pending": true, "action": action})
}

func (s *Server) handleListNodes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types := []string{}
	if s.nodeTypes != nil {
		types = s.nodeTypes()
	}
	return marshalResult(map[string]any{"types": types})
}

// captureSession binds runID to the calling client's session, if any.
func (s *Server) captureSession(ctx context.Context, runID string) bool {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return false
	}
	s.sessions.Register(runID, session.SessionID())
	return true
}

// decodeArg converts the object argument key into v.
func decodeArg(req mcp.CallToolRequest, key string, v any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
