package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/socialflow/internal/engine"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Orchestrator *engine.Orchestrator
	// NodeTypes lists the registered node types for socialflow.list_nodes.
	NodeTypes func() []string
	// Sessions records which MCP session started which run, for
	// MCPNotifier. Optional.
	Sessions *SessionRegistry
	Logger   *slog.Logger
	Version  string
}

// Server exposes the orchestrator as MCP tools.
type Server struct {
	orch      *engine.Orchestrator
	nodeTypes func() []string
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		orch:      deps.Orchestrator,
		nodeTypes: deps.NodeTypes,
		sessions:  sessions,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"socialflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Socialflow orchestrates social-platform automation runs. Use socialflow.start_run to execute a node graph, socialflow.run_state to follow it, socialflow.approve to resolve approval gates, and socialflow.poll_action / socialflow.report_action_result to act as the executor of dispatched actions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startRunTool(), Handler: s.handleStartRun},
		{Tool: runStateTool(), Handler: s.handleRunState},
		{Tool: listRunsTool(), Handler: s.handleListRuns},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: reportResultTool(), Handler: s.handleReportActionResult},
		{Tool: enqueueActionTool(), Handler: s.handleEnqueueAction},
		{Tool: pollActionTool(), Handler: s.handlePollAction},
		{Tool: listNodesTool(), Handler: s.handleListNodes},
	}
}

// --- Tool definitions ---

func startRunTool() mcp.Tool {
	return mcp.NewTool("socialflow.start_run",
		mcp.WithDescription("Start a run of a sequential node graph"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Workflow graph: {nodes: [{id, type, inputs?}]}")),
		mcp.WithObject("input", mcp.Description("Input handed to the first node")),
		mcp.WithString("run_id", mcp.Description("Run ID (generated when omitted; an existing run is returned unchanged)")),
	)
}

func runStateTool() mcp.Tool {
	return mcp.NewTool("socialflow.run_state",
		mcp.WithDescription("Get the persisted state of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func listRunsTool() mcp.Tool {
	return mcp.NewTool("socialflow.list_runs",
		mcp.WithDescription("List runs, newest first"),
		mcp.WithString("status",
			mcp.Enum("running", "waiting_approval", "waiting_action", "completed", "failed"),
			mcp.Description("Only runs in this status"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("socialflow.approve",
		mcp.WithDescription("Approve or reject a run waiting for approval"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("true to approve, false to reject")),
	)
}

func reportResultTool() mcp.Tool {
	return mcp.NewTool("socialflow.report_action_result",
		mcp.WithDescription("Report the result of a dispatched action"),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request ID of the action")),
		mcp.WithObject("result", mcp.Required(), mcp.Description("Action result: {ok, platformPostId?, error?: {type, message, retriable}}")),
		mcp.WithString("run_id", mcp.Description("Owning run, when the request is no longer pending")),
	)
}

func enqueueActionTool() mcp.Tool {
	return mcp.NewTool("socialflow.enqueue_action",
		mcp.WithDescription("Queue an action for an executor outside any run"),
		mcp.WithObject("action", mcp.Required(), mcp.Description("Action request: {userId, platform, action, mode, payload, requestId?}")),
	)
}

func pollActionTool() mcp.Tool {
	return mcp.NewTool("socialflow.poll_action",
		mcp.WithDescription("Claim the next queued action of a user"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose queue to poll")),
	)
}

func listNodesTool() mcp.Tool {
	return mcp.NewTool("socialflow.list_nodes",
		mcp.WithDescription("List the registered node types"),
	)
}
