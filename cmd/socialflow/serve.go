package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/socialflow/internal/agent"
	"github.com/rendis/socialflow/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var withAgent bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and sweep expired runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, c.configFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, withAgent)
		},
	}
	cmd.Flags().String("listen-addr", "", "TCP listen address (default :4200)")
	cmd.Flags().Duration("approval-ttl", 0, "fail runs waiting for approval longer than this (0 = never)")
	cmd.Flags().Duration("action-ttl", 0, "fail runs waiting for an action result longer than this (0 = never)")
	cmd.Flags().String("adapter-base-url", "", "platform adapter base URL for the in-process agent")
	cmd.Flags().String("user-id", "", "user whose actions the in-process agent executes")
	cmd.Flags().Duration("poll-interval", 0, "in-process agent poll interval")
	cmd.Flags().BoolVar(&withAgent, "agent", false, "run an in-process agent executing queued actions")
	return cmd
}

func runServe(parent context.Context, cfg Config, withAgent bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	stopSweeper, err := a.startSweeper(ctx)
	if err != nil {
		return err
	}
	defer stopSweeper()

	if a.telegram != nil {
		go a.telegram.Start(ctx)
	}

	if withAgent {
		poller, err := agent.NewPoller(a.orch, newExecutor(cfg, logger), agent.Config{
			UserID:       cfg.AgentUserID,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("agent stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Orchestrator: a.orch,
			NodeTypes:    a.nodes.Types,
			Metrics:      a.metrics.Handler(),
			Logger:       logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
