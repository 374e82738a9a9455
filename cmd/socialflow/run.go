package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/socialflow/pkg/schema"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		graphFile string
		input     string
		runID     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a graph once on an in-memory store and print the run record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if graphFile == "" {
				return errors.New("--file is required")
			}
			cfg, err := loadConfig(cmd, c.configFile)
			if err != nil {
				return err
			}
			graph, err := loadGraph(graphFile)
			if err != nil {
				return err
			}
			in, err := parseInput(input)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{forceMemory: true, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.orch.StartRun(cmd.Context(), graph, in, runID)
			if err != nil {
				return err
			}
			if err := printRecord(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if rec.Status == schema.RunStatusFailed {
				return fmt.Errorf("run %s failed: %s", rec.ID, rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&graphFile, "file", "f", "", "graph file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&input, "input", "", "run input as JSON, or @file")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	return cmd
}

func printRecord(w io.Writer, rec *schema.RunRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
