package notify

import (
	"context"
	"errors"

	"github.com/rendis/socialflow/pkg/schema"
)

// Notifier is the set of run notices a channel can deliver.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, run *schema.RunRecord) error
	NotifyRunFailed(ctx context.Context, run *schema.RunRecord) error
}

// Multi fans a notice out to every notifier. All notifiers are called even
// when one fails; the failures are joined.
type Multi []Notifier

// Combine returns the non-nil notifiers as one. It returns nil when none
// remain.
func Combine(ns ...Notifier) Notifier {
	var out Multi
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m Multi) NotifyApprovalRequested(ctx context.Context, run *schema.RunRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyApprovalRequested(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyRunFailed(ctx context.Context, run *schema.RunRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyRunFailed(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
