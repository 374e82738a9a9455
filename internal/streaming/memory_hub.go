package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/socialflow/pkg/schema"
)

// SubscriberBuffer is the channel capacity of each subscription. A
// subscriber that falls this far behind starts losing events.
const SubscriberBuffer = 64

type subscription struct {
	ch    chan schema.TraceEvent
	types []schema.TraceEventType
}

func (s *subscription) wants(t schema.TraceEventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// MemoryHub is an in-process EventHub. Subscribers are indexed by run id
// (the empty id holds subscribers to every run), so publishing a run's
// event only visits that run's watchers. Publish never blocks.
type MemoryHub struct {
	mu      sync.RWMutex
	byRun   map[string]map[uint64]*subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{byRun: make(map[string]map[uint64]*subscription)}
}

func (h *MemoryHub) Publish(ctx context.Context, event schema.TraceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.byRun[event.RunID], event)
	if event.RunID != "" {
		h.deliver(h.byRun[""], event)
	}
	return nil
}

func (h *MemoryHub) deliver(subs map[uint64]*subscription, event schema.TraceEvent) {
	for _, sub := range subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscription matching filter. It ends, closing the
// channel, when the returned cancel func is called or ctx is done,
// whichever comes first.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.TraceEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.nextID.Add(1)
	sub := &subscription{
		ch:    make(chan schema.TraceEvent, SubscriberBuffer),
		types: slices.Clone(filter.EventTypes),
	}

	h.mu.Lock()
	if h.byRun[filter.RunID] == nil {
		h.byRun[filter.RunID] = make(map[uint64]*subscription)
	}
	h.byRun[filter.RunID][id] = sub
	h.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.byRun[filter.RunID], id)
			if len(h.byRun[filter.RunID]) == 0 {
				delete(h.byRun, filter.RunID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	stop := context.AfterFunc(ctx, release)
	return sub.ch, func() {
		stop()
		release()
	}, nil
}

// Subscribers reports the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.byRun {
		n += len(subs)
	}
	return n
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}
