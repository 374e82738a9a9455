package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sfmcp "github.com/rendis/socialflow/pkg/mcp"
)

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the orchestrator as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, c.configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessions := sfmcp.NewSessionRegistry()
			notifier := sfmcp.NewMCPNotifier(sessions)
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(ctx, cfg, appOptions{extraNotifier: notifier, logOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := sfmcp.NewServer(sfmcp.ServerDeps{
				Orchestrator: a.orch,
				NodeTypes:    a.nodes.Types,
				Sessions:     sessions,
				Logger:       a.logger,
				Version:      version,
			})
			notifier.Attach(srv.MCPServer())

			stopSweeper, err := a.startSweeper(ctx)
			if err != nil {
				return err
			}
			defer stopSweeper()
			if a.telegram != nil {
				go a.telegram.Start(ctx)
			}
			return srv.Serve(ctx)
		},
	}
}
