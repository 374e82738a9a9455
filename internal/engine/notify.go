package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/socialflow/pkg/schema"
)

// Notification events passed to Observer.NotificationSent.
const (
	NotifyApprovalRequested = "approval_requested"
	NotifyRunFailed         = "run_failed"
)

// ErrNotifyClosed is returned once the orchestrator has been closed.
var ErrNotifyClosed = errors.New("notification queue is closed")

// notifyQueue delivers notifier calls on their own goroutines, at most
// size at a time, so a slow chat API never holds a run actor. Each call
// gets a snapshot of the run taken at transition time.
type notifyQueue struct {
	slots    chan struct{}
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed chan struct{}
	done   bool
}

func newNotifyQueue(size int, observer Observer, logger *slog.Logger) *notifyQueue {
	if size <= 0 {
		size = 1
	}
	return &notifyQueue{
		slots:    make(chan struct{}, size),
		observer: observer,
		logger:   logger,
		closed:   make(chan struct{}),
	}
}

// send blocks while every slot is busy. ctx only bounds that wait; the
// delivery itself runs detached from the caller's cancellation.
func (q *notifyQueue) send(ctx context.Context, event string, run *schema.RunRecord, fn func(context.Context, *schema.RunRecord) error) error {
	snapshot, err := schema.Clone(run)
	if err != nil {
		return err
	}

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrNotifyClosed
	}

	// wg.Add under the lock so drain never waits on a half-registered send.
	q.mu.Lock()
	if q.done {
		q.mu.Unlock()
		<-q.slots
		return ErrNotifyClosed
	}
	q.wg.Add(1)
	q.mu.Unlock()

	deliverCtx := context.WithoutCancel(ctx)
	go func() {
		defer q.wg.Done()
		defer func() { <-q.slots }()
		err := q.deliver(deliverCtx, fn, snapshot)
		q.observer.NotificationSent(event, err)
		if err != nil {
			q.logger.WarnContext(deliverCtx, "notification failed",
				"event", event, "run_id", snapshot.ID, "error", err)
		}
	}()
	return nil
}

func (q *notifyQueue) deliver(ctx context.Context, fn func(context.Context, *schema.RunRecord) error, run *schema.RunRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return fn(ctx, run)
}

// wait blocks until every accepted notification has been delivered.
func (q *notifyQueue) wait() { q.wg.Wait() }

// drain refuses new notifications and waits for in-flight ones.
func (q *notifyQueue) drain() {
	q.mu.Lock()
	if !q.done {
		q.done = true
		close(q.closed)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
