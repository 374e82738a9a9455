// Package agent plays the external executor role: it polls the pending
// action queue of one user, performs each action and reports the result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/rendis/socialflow/internal/dispatch"
	"github.com/rendis/socialflow/internal/executor"
	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/pkg/schema"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultReportRetries  = 5
	DefaultReportInterval = time.Second
)

// Backend is the orchestrator as seen by an agent. Both
// *engine.Orchestrator (in process) and *Client (remote) implement it.
type Backend interface {
	PollPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error)
	ReportActionResult(ctx context.Context, requestID string, result *schema.ActionResult, runIDHint string) (*dispatch.Resolution, error)
}

// Config configures a Poller.
type Config struct {
	UserID         string
	PollInterval   time.Duration
	ReportRetries  int
	ReportInterval time.Duration
	Logger         *slog.Logger
}

// Poller runs the poll -> execute -> report loop for one user.
type Poller struct {
	backend  Backend
	executor executor.Executor
	cfg      Config
}

// NewPoller creates a Poller. UserID is required.
func NewPoller(backend Backend, ex executor.Executor, cfg Config) (*Poller, error) {
	if cfg.UserID == "" {
		return nil, errors.New("agent: user id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReportRetries < 0 {
		cfg.ReportRetries = 0
	} else if cfg.ReportRetries == 0 {
		cfg.ReportRetries = DefaultReportRetries
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{backend: backend, executor: ex, cfg: cfg}, nil
}

// Run polls until ctx is done. Queued actions are drained back to back;
// an empty poll or a poll error waits PollInterval.
func (p *Poller) Run(ctx context.Context) error {
	p.cfg.Logger.InfoContext(ctx, "agent polling", "user_id", p.cfg.UserID, "interval", p.cfg.PollInterval)
	for {
		handled, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.cfg.Logger.WarnContext(ctx, "agent iteration failed", "error", err)
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims at most one action, executes it and reports its result.
// It returns false when the queue was empty.
func (p *Poller) RunOnce(ctx context.Context) (bool, error) {
	req, err := p.backend.PollPendingAction(ctx, p.cfg.UserID)
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if req == nil {
		return false, nil
	}

	ctx = logging.WithRequestID(ctx, req.RequestID)
	if req.TraceContext.RunID != "" {
		ctx = logging.WithRunID(ctx, req.TraceContext.RunID)
	}

	start := time.Now()
	result, err := p.executor.Execute(ctx, req)
	if err != nil || result == nil {
		result = executor.ToActionResult(err)
	}
	p.cfg.Logger.InfoContext(ctx, "action executed",
		"platform", req.Platform,
		"action", req.Action,
		"mode", req.Mode,
		"ok", result.OK,
		"duration", time.Since(start),
	)

	if err := p.report(ctx, req, result); err != nil {
		return true, fmt.Errorf("report %s: %w", req.RequestID, err)
	}
	return true, nil
}

// report delivers result, retrying transient failures. Rejections the
// server will repeat (unknown request, invalid payload) are not retried.
func (p *Poller) report(ctx context.Context, req *schema.ActionRequest, result *schema.ActionResult) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.ReportInterval), uint64(p.cfg.ReportRetries)),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		res, err := p.backend.ReportActionResult(ctx, req.RequestID, result, req.TraceContext.RunID)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if res.Duplicate {
			p.cfg.Logger.DebugContext(ctx, "result already recorded")
		}
		return nil
	}, b, func(err error, wait time.Duration) {
		p.cfg.Logger.WarnContext(ctx, "report failed, retrying", "wait", wait, "error", err)
	})
}

func permanent(err error) bool {
	return schema.HasCode(err, schema.ErrCodeNotFound) ||
		schema.HasCode(err, schema.ErrCodeValidation) ||
		schema.HasCode(err, schema.ErrCodeNotWaiting)
}
