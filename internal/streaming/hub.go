package streaming

import (
	"context"

	"github.com/rendis/socialflow/pkg/schema"
)

// EventFilter specifies which trace events a subscriber wants to receive.
type EventFilter struct {
	RunID      string                  `json:"run_id,omitempty"`
	EventTypes []schema.TraceEventType `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for committed run trace events.
type EventHub interface {
	Publish(ctx context.Context, event schema.TraceEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.TraceEvent, func(), error)
}
