package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/socialflow/internal/diagram"
)

func diagramCmd() *cobra.Command {
	var graphFile, format string
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Render a graph file as a Mermaid or ASCII diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if graphFile == "" {
				return errors.New("--file is required")
			}
			graph, err := loadGraph(graphFile)
			if err != nil {
				return err
			}
			out, err := diagram.Render(diagram.Build(graph, nil), format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVarP(&graphFile, "file", "f", "", "graph file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&format, "format", "mermaid", "output format: mermaid or ascii")
	return cmd
}
