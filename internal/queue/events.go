package queue

import (
	"context"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// EventType names a queue change.
type EventType string

const (
	EventQueued        EventType = "queued"
	EventAcknowledged  EventType = "acknowledged"
	EventFailed        EventType = "failed"
	EventCycleComplete EventType = "cycle_complete"
)

// Event is delivered to subscribers after a queue change is committed.
type Event struct {
	Type    EventType
	Kind    model.Kind
	ItemID  int64
	Pending int
	Error   string
}

// Subscribe registers fn for queue events and returns a function that
// removes it. Each subscriber is called on its own goroutine; a slow
// subscriber delays only itself.
func (q *Queue) Subscribe(fn func(Event)) (unsubscribe func()) {
	return q.hub.Subscribe(fn)
}

func (q *Queue) publish(ctx context.Context, typ EventType, id int64, errText string) {
	pending, err := q.PendingCount(ctx)
	if err != nil {
		q.logger.Warn("count pending for event", "error", err)
		pending = -1
	}
	q.hub.Publish(Event{Type: typ, Kind: q.kind, ItemID: id, Pending: pending, Error: errText})
}
