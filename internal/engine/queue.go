package engine

import (
	"context"
	"sync"
)

// eventQueue is a thread-safe FIFO of emitted events.
//
// WatchAll's per-repository loops enqueue; a single drain goroutine
// dequeues and calls the sink. The queue is unbounded so a slow sink never
// blocks a loop between persisting and emitting.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the drain loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Emitted
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Emitted, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Emitted) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Emitted, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Emitted{}, false
	}

	e := q.events[0]
	// Release the slot so the backing array does not pin old events.
	q.events[0] = Emitted{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain delivers events to sink in FIFO order until the queue is closed
// and empty, or ctx is cancelled.
func (q *eventQueue) Drain(ctx context.Context, sink Sink) error {
	for {
		if e, ok := q.TryDequeue(); ok {
			if err := sink.Emit(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return newRepoError(ErrCodeEmitFailed, e.Repo, "emit "+string(e.Event.Kind()), err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.Wait():
			q.mu.Lock()
			done := q.closed && len(q.events) == 0
			q.mu.Unlock()
			if done {
				return nil
			}
		}
	}
}
