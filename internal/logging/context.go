package logging

import (
	"context"
	"log/slog"
)

// ids are the correlation ids carried through a run: the run, the node
// executing, and the action request being dispatched or resolved.
type ids struct {
	run, node, request string
}

type ctxKey struct{}

func from(ctx context.Context) ids {
	v, _ := ctx.Value(ctxKey{}).(ids)
	return v
}

func with(ctx context.Context, set func(*ids)) context.Context {
	v := from(ctx)
	set(&v)
	return context.WithValue(ctx, ctxKey{}, v)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return with(ctx, func(v *ids) { v.run = id })
}

func WithNodeID(ctx context.Context, id string) context.Context {
	return with(ctx, func(v *ids) { v.node = id })
}

// WithRequestID tags ctx with an action request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, func(v *ids) { v.request = id })
}

func RunID(ctx context.Context) string { return from(ctx).run }

func NodeID(ctx context.Context) string { return from(ctx).node }

func RequestID(ctx context.Context) string { return from(ctx).request }

func (v ids) attrs() []slog.Attr {
	var out []slog.Attr
	if v.run != "" {
		out = append(out, slog.String("run_id", v.run))
	}
	if v.node != "" {
		out = append(out, slog.String("node_id", v.node))
	}
	if v.request != "" {
		out = append(out, slog.String("request_id", v.request))
	}
	return out
}

// CorrelationHandler adds the run, node and request ids found in the
// record's context, so code logs with logger.InfoContext(ctx, ...) and
// never passes them by hand.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(from(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
