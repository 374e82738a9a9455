package mcp

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/socialflow/pkg/schema"
)

const notificationMethod = "notifications/message"

// MCPNotifier pushes run notifications to the MCP session that started the
// run. The MCP server is attached after construction because the server
// itself needs the orchestrator the notifier is handed to.
type MCPNotifier struct {
	mcpServer atomic.Pointer[server.MCPServer]
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that resolves runs through sessions.
func NewMCPNotifier(sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{sessions: sessions}
}

// Attach sets the server notifications are sent through.
func (n *MCPNotifier) Attach(s *server.MCPServer) {
	n.mcpServer.Store(s)
}

// NotifyApprovalRequested tells the owning session a run awaits a decision.
func (n *MCPNotifier) NotifyApprovalRequested(ctx context.Context, run *schema.RunRecord) error {
	return n.send(ctx, run, map[string]any{
		"level":  "info",
		"logger": "socialflow",
		"data": map[string]any{
			"event":           "approval_requested",
			"runId":           run.ID,
			"pendingApproval": run.PendingApproval,
		},
	})
}

// NotifyRunFailed tells the owning session a run failed.
func (n *MCPNotifier) NotifyRunFailed(ctx context.Context, run *schema.RunRecord) error {
	return n.send(ctx, run, map[string]any{
		"level":  "error",
		"logger": "socialflow",
		"data": map[string]any{
			"event": "run_failed",
			"runId": run.ID,
			"error": run.Error,
		},
	})
}

// send is best-effort: unknown runs and vanished sessions are not errors.
func (n *MCPNotifier) send(_ context.Context, run *schema.RunRecord, payload map[string]any) error {
	srv := n.mcpServer.Load()
	if srv == nil || run == nil {
		return nil
	}
	sessionID, ok := n.sessions.SessionFor(run.ID)
	if !ok {
		return nil
	}
	err := srv.SendNotificationToSpecificClient(sessionID, notificationMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	if err == nil && run.Status.IsTerminal() {
		n.sessions.Forget(run.ID)
	}
	return err
}
