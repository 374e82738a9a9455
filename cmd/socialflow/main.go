package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type cli struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "socialflow",
		Short:         "Run orchestration engine for social-platform automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "settings file (default ~/.socialflow/settings.json)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")
	root.PersistentFlags().String("store", "", "store backend: memory, libsql or redis")
	root.PersistentFlags().String("db-path", "", "libsql database path")
	root.PersistentFlags().String("redis-addr", "", "redis host:port")

	root.AddCommand(
		c.serveCmd(),
		c.mcpCmd(),
		c.runCmd(),
		c.agentCmd(),
		diagramCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
