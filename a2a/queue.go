package a2a

import (
	"context"
	"sync"
	"time"
)

// eventQueue is an unbounded ordered FIFO from the task pipeline to the
// stream reader. Put never blocks and never drops; Get waits up to a
// timeout so the reader can interleave keepalives.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ready: make(chan struct{}, 1),
	}
}

// Put appends an event and wakes a waiting reader.
func (q *eventQueue) Put(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get returns the next event, waiting up to timeout. The second return is
// false on timeout or context cancellation.
func (q *eventQueue) Get(ctx context.Context, timeout time.Duration) (Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if ev, ok := q.TryGet(); ok {
			return ev, true
		}

		select {
		case <-q.ready:
			// Re-check; a single signal may cover several queued events.
		case <-deadline.C:
			return Event{}, false
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// TryGet pops the next event without blocking.
func (q *eventQueue) TryGet() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Len reports the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
