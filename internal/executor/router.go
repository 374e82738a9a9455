package executor

import (
	"context"
	"fmt"

	"github.com/rendis/socialflow/internal/adapters"
	"github.com/rendis/socialflow/pkg/schema"
)

// Router sends each action to the executor of the mode its platform
// supports, as chosen by adapters.Registry.ChooseMode.
type Router struct {
	caps      *adapters.Registry
	executors map[schema.ExecutionMode]Executor
}

// NewRouter creates a Router with no executors.
func NewRouter(caps *adapters.Registry) *Router {
	return &Router{caps: caps, executors: make(map[schema.ExecutionMode]Executor)}
}

// Handle registers ex for mode. It is not safe to call once Execute is in use.
func (r *Router) Handle(mode schema.ExecutionMode, ex Executor) *Router {
	r.executors[mode] = ex
	return r
}

func (r *Router) Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
	mode := r.caps.ChooseMode(req)
	ex, ok := r.executors[mode]
	if !ok {
		return nil, &ExecutorError{
			Type:    "unsupported_mode",
			Message: fmt.Sprintf("no executor for mode %s (%s/%s)", mode, req.Platform, req.Action),
		}
	}
	routed := *req
	routed.Mode = mode
	return ex.Execute(ctx, &routed)
}
