package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/pkg/schema"
)

type sentObserver struct {
	NopObserver
	mu   sync.Mutex
	sent map[string][]error
}

func (o *sentObserver) NotificationSent(event string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sent == nil {
		o.sent = map[string][]error{}
	}
	o.sent[event] = append(o.sent[event], err)
}

func (o *sentObserver) outcomes(event string) []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.sent[event]...)
}

func newTestQueue(size int, obs Observer) *notifyQueue {
	return newNotifyQueue(size, obs, slog.New(slog.DiscardHandler))
}

func TestNotifyQueue_DeliversSnapshot(t *testing.T) {
	obs := &sentObserver{}
	q := newTestQueue(2, obs)
	defer q.drain()

	run := &schema.RunRecord{ID: "r1", Status: schema.RunStatusWaitingApproval, PendingApproval: map[string]any{"draft": "hi"}}
	got := make(chan *schema.RunRecord, 1)
	require.NoError(t, q.send(context.Background(), NotifyApprovalRequested, run, func(_ context.Context, r *schema.RunRecord) error {
		got <- r
		return nil
	}))
	run.Status = schema.RunStatusCompleted
	q.wait()

	snap := <-got
	assert.Equal(t, schema.RunStatusWaitingApproval, snap.Status)
	assert.Equal(t, []error{nil}, obs.outcomes(NotifyApprovalRequested))
}

func TestNotifyQueue_ReportsFailureAndPanic(t *testing.T) {
	obs := &sentObserver{}
	q := newTestQueue(1, obs)
	defer q.drain()

	run := &schema.RunRecord{ID: "r1", Status: schema.RunStatusFailed}
	require.NoError(t, q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error {
		return errors.New("chat api down")
	}))
	require.NoError(t, q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error {
		panic("boom")
	}))
	q.wait()

	outcomes := obs.outcomes(NotifyRunFailed)
	require.Len(t, outcomes, 2)
	assert.EqualError(t, outcomes[0], "chat api down")
	assert.ErrorContains(t, outcomes[1], "notifier panicked: boom")
}

func TestNotifyQueue_BoundsConcurrency(t *testing.T) {
	q := newTestQueue(2, NopObserver{})
	defer q.drain()

	var current, peak int64
	run := &schema.RunRecord{ID: "r1"}
	for i := 0; i < 8; i++ {
		require.NoError(t, q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	q.wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestNotifyQueue_SendWaitRespectsContext(t *testing.T) {
	q := newTestQueue(1, NopObserver{})
	defer q.drain()

	release := make(chan struct{})
	run := &schema.RunRecord{ID: "r1"}
	require.NoError(t, q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.send(ctx, NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestNotifyQueue_DrainRejectsNewSends(t *testing.T) {
	q := newTestQueue(1, NopObserver{})

	var delivered atomic.Bool
	run := &schema.RunRecord{ID: "r1"}
	require.NoError(t, q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error {
		time.Sleep(10 * time.Millisecond)
		delivered.Store(true)
		return nil
	}))
	q.drain()
	assert.True(t, delivered.Load(), "drain waits for in-flight deliveries")

	err := q.send(context.Background(), NotifyRunFailed, run, func(context.Context, *schema.RunRecord) error { return nil })
	assert.ErrorIs(t, err, ErrNotifyClosed)
	q.drain()
}
