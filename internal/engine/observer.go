package engine

import (
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

// Observer receives lifecycle signals for instrumentation.
// metrics.Metrics is the production implementation.
type Observer interface {
	RunStarted()
	RunTransition(from, to schema.RunStatus)
	NodeFinished(nodeType string, d time.Duration, err error)
	ActionDispatched(req *schema.ActionRequest)
	ActionResolved(req *schema.ActionRequest, ok bool)
	// NotificationSent reports a delivered (err == nil) or failed notifier call.
	NotificationSent(event string, err error)
}

// NopObserver discards all signals.
type NopObserver struct{}

func (NopObserver) RunStarted() {}
func (NopObserver) RunTransition(_, _ schema.RunStatus) {}
func (NopObserver) NodeFinished(_ string, _ time.Duration, _ error) {}
func (NopObserver) ActionDispatched(_ *schema.ActionRequest) {}
func (NopObserver) ActionResolved(_ *schema.ActionRequest, _ bool) {}
func (NopObserver) NotificationSent(_ string, _ error) {}
