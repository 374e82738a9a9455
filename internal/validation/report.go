package validation

import (
	"fmt"

	"github.com/rendis/socialflow/pkg/schema"
)

// Issue is one problem found in a graph. Path locates it, e.g. nodes[1].id.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report collects the issues found in a graph. Warnings never block a run.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Report) fail(path, code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warn(path, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) absorb(other *Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Valid reports whether the graph has no errors.
func (r *Report) Valid() bool { return len(r.Errors) == 0 }

// Err returns nil for a valid graph, otherwise a VALIDATION_ERROR carrying
// the first error's location and every issue in its details.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	msg := first.Message
	if first.Path != "/" {
		msg = first.Path + ": " + msg
	}
	if extra := len(r.Errors) - 1; extra > 0 {
		msg = fmt.Sprintf("%s (and %d more)", msg, extra)
	}
	return schema.NewError(schema.ErrCodeValidation, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
