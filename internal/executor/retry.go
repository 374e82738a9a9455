package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/rendis/socialflow/pkg/schema"
)

// DefaultMaxAttempts bounds RetryExecutor attempts, the first one included.
const DefaultMaxAttempts = 3

// errRetriableResult marks an ok=false result that asked to be retried.
var errRetriableResult = errors.New("retriable action result")

// RetryExecutor retries retriable failures of the wrapped executor with
// exponential backoff. Permanent failures and ok=true results return
// immediately.
type RetryExecutor struct {
	next        Executor
	maxAttempts int
	initial     time.Duration
	maxInterval time.Duration
	logger      *slog.Logger
}

// RetryOption configures a RetryExecutor.
type RetryOption func(*RetryExecutor)

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(r *RetryExecutor) { r.maxAttempts = n }
}

// WithBackoff sets the first retry delay and the delay cap.
func WithBackoff(initial, ceiling time.Duration) RetryOption {
	return func(r *RetryExecutor) {
		r.initial = initial
		r.maxInterval = ceiling
	}
}

// WithRetryLogger sets the logger for retry attempts.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *RetryExecutor) { r.logger = l }
}

// NewRetryExecutor wraps next.
func NewRetryExecutor(next Executor, opts ...RetryOption) *RetryExecutor {
	r := &RetryExecutor{
		next:        next,
		maxAttempts: DefaultMaxAttempts,
		initial:     500 * time.Millisecond,
		maxInterval: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

func (r *RetryExecutor) Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.MaxInterval = r.maxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.maxAttempts-1)), ctx)

	var last *schema.ActionResult
	attempt := 0
	op := func() error {
		attempt++
		res, err := r.next.Execute(ctx, req)
		if err != nil {
			if !Retriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = res
		if res != nil && !res.OK && res.Error != nil && res.Error.Retriable {
			return errRetriableResult
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "action attempt failed, retrying",
			"request_id", req.RequestID, "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errRetriableResult):
		return last, nil
	default:
		return nil, err
	}
}
