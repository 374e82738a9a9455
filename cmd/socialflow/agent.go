package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/socialflow/internal/agent"
)

func (c *cli) agentCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Poll a socialflow server for queued actions and execute them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverURL == "" {
				return errors.New("--server is required")
			}
			cfg, err := loadConfig(cmd, c.configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger(cfg, cmd.ErrOrStderr())
			poller, err := agent.NewPoller(agent.NewClient(serverURL), newExecutor(cfg, logger), agent.Config{
				UserID:       cfg.AgentUserID,
				PollInterval: cfg.PollInterval,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			return poller.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "base URL of the socialflow HTTP API")
	cmd.Flags().String("user-id", "", "user whose queued actions to execute")
	cmd.Flags().String("adapter-base-url", "", "platform adapter base URL")
	cmd.Flags().Duration("poll-interval", 0, "delay after an empty poll")
	return cmd
}
