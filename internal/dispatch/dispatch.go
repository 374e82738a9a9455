// Package dispatch hands actions produced by runs to external executors and
// routes their results back to the owning run.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

// PendingStore is the slice of store.Store the dispatcher writes to.
type PendingStore interface {
	SavePendingAction(ctx context.Context, req *schema.ActionRequest) error
	GetActionResult(ctx context.Context, requestID string) (*store.StoredResult, error)
}

// ActionValidator checks an ActionRequest before it is queued.
type ActionValidator interface {
	ValidateAction(req *schema.ActionRequest) error
}

// Observer receives action lifecycle signals. engine.Observer is a superset.
type Observer interface {
	ActionDispatched(req *schema.ActionRequest)
	ActionResolved(req *schema.ActionRequest, ok bool)
}

type nopObserver struct{}

func (nopObserver) ActionDispatched(*schema.ActionRequest) {}
func (nopObserver) ActionResolved(*schema.ActionRequest, bool) {}

// Option configures a Dispatcher or Correlator.
type Option func(*options)

type options struct {
	validator ActionValidator
	observer  Observer
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// WithValidator validates every dispatched action.
func WithValidator(v ActionValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithObserver reports dispatch and resolution signals to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithPublisher publishes trace events of actions that belong to no run.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{observer: nopObserver{}, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dispatcher writes actions into the pending store for pickup.
type Dispatcher struct {
	store PendingStore
	options
}

// NewDispatcher creates a Dispatcher writing to st.
func NewDispatcher(st PendingStore, opts ...Option) *Dispatcher {
	return &Dispatcher{store: st, options: buildOptions(opts)}
}

// Dispatch validates req, upserts it into the pending store and emits an
// ActionRequested event through emit. Dispatching the same request id twice
// leaves a single pending entry. A request whose result is already stored is
// rejected with CONFLICT so the side effect is never performed twice.
func (d *Dispatcher) Dispatch(ctx context.Context, req *schema.ActionRequest, emit func(schema.TraceEvent)) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "action request is nil")
	}
	if d.validator != nil {
		if err := d.validator.ValidateAction(req); err != nil {
			return err
		}
	} else if req.RequestID == "" {
		return schema.NewError(schema.ErrCodeValidation, "action request id is required")
	}

	ctx = logging.WithRequestID(ctx, req.RequestID)
	if _, err := d.store.GetActionResult(ctx, req.RequestID); err == nil {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %s already has a result", req.RequestID)
	} else if !schema.IsNotFound(err) {
		return storeError("check action result", err)
	}

	if err := d.store.SavePendingAction(ctx, req); err != nil {
		return storeError("save pending action", err)
	}
	d.observer.ActionDispatched(req)
	d.logger.DebugContext(ctx, "action dispatched",
		"platform", req.Platform, "action", req.Action, "mode", req.Mode, "user_id", req.UserID)

	if emit != nil {
		emit(schema.ActionRequestedEvent(req, d.now().UTC()))
	}
	return nil
}

// storeError wraps a backend failure as STORE_ERROR, keeping structured
// errors (NOT_FOUND, CONFLICT) as they are.
func storeError(op string, err error) error {
	if schema.CodeOf(err) != "" {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
