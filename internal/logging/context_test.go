package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func textLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewCorrelationHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestCorrelationIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, NodeID(ctx))
	assert.Empty(t, RequestID(ctx))

	run := WithRunID(ctx, "run-1")
	node := WithNodeID(run, "draft")
	req := WithRequestID(node, "req-1")

	assert.Equal(t, "run-1", RunID(req))
	assert.Equal(t, "draft", NodeID(req))
	assert.Equal(t, "req-1", RequestID(req))
	assert.Empty(t, NodeID(run), "parent context is not modified")

	assert.Equal(t, "publish", NodeID(WithNodeID(node, "publish")))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRequestID(WithNodeID(WithRunID(context.Background(), "run-abc"), "gate"), "req-7")
	textLogger(&buf).InfoContext(ctx, "node finished")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-abc")
	assert.Contains(t, out, "node_id=gate")
	assert.Contains(t, out, "request_id=req-7")
	assert.Contains(t, out, "node finished")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	textLogger(&buf).InfoContext(WithRunID(context.Background(), "run-only"), "partial")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-only")
	assert.NotContains(t, out, "node_id")
	assert.NotContains(t, out, "request_id")
}

func TestCorrelationHandlerWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	textLogger(&buf).Info("plain")
	assert.NotContains(t, buf.String(), "run_id")
}

func TestCorrelationHandlerKeepsAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRunID(context.Background(), "run-g")
	textLogger(&buf).With("component", "sweeper").WithGroup("sweep").InfoContext(ctx, "expired", "count", 2)

	out := buf.String()
	assert.Contains(t, out, "component=sweeper")
	assert.Contains(t, out, "sweep.count=2")
	assert.Contains(t, out, "sweep.run_id=run-g")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")

	ctx := WithRunID(context.Background(), "run-json")
	logger.InfoContext(ctx, "hidden")
	logger.WarnContext(ctx, "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"run_id":"run-json"`)
	assert.Contains(t, out, "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
