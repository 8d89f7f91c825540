package monitoring

import (
	"sync"
	"sync/atomic"
)

// eventQueue is the bounded hand-off between request goroutines and the
// monitoring worker. Producers never block: when the queue is full the
// oldest unconsumed event is evicted and counted as dropped.
type eventQueue struct {
	mu       sync.Mutex
	items    []*ErrorEvent
	head     int
	count    int
	capacity int
	notify   chan struct{}
	dropped  atomic.Int64
}

func newEventQueue(capacity int) *eventQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &eventQueue{
		items:    make([]*ErrorEvent, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues an event, evicting the oldest when full. Never blocks.
func (q *eventQueue) Push(ev *ErrorEvent) {
	q.mu.Lock()
	if q.count == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped.Add(1)
	}
	q.items[(q.head+q.count)%q.capacity] = ev
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop dequeues the oldest event, or nil when empty.
func (q *eventQueue) Pop() *ErrorEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	ev := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.count--
	return ev
}

// Wait returns a channel signalled when events may be available.
func (q *eventQueue) Wait() <-chan struct{} { return q.notify }

// Dropped returns the evicted-event count.
func (q *eventQueue) Dropped() int64 { return q.dropped.Load() }
