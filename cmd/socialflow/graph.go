package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/socialflow/pkg/schema"
)

// loadGraph reads a workflow graph from a .json file, or from YAML for any
// other extension.
func loadGraph(path string) (schema.WorkflowGraph, error) {
	var g schema.WorkflowGraph
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("read graph: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &g); err != nil {
			return g, fmt.Errorf("parse graph %s: %w", path, err)
		}
		return g, nil
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return g, nil
}

// parseInput decodes the --input flag. An empty value means no input; a
// value starting with @ names a file to read it from.
func parseInput(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		data = b
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return v, nil
}
