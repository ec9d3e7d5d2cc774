package queue

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of raw MIDI messages with one producer and one
// consumer. Push never blocks, so it is safe to call from a driver callback.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	ready  chan struct{} // holds one token while items may be pending
}

// New creates an empty queue
func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends msg. It returns false once the queue is closed; the message
// is dropped in that case.
func (q *Queue) Push(msg []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.signal()
	return true
}

// Close marks the producer side as finished. Pending items can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// tryPop removes the head. done is true when the queue is closed and empty.
func (q *Queue) tryPop() (msg []byte, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		msg = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if len(q.items) == 0 {
			q.items = nil
		}
		return msg, true, false
	}
	return nil, false, q.closed
}

// Pop waits up to timeout for a message. ok is false on timeout or when the
// queue is closed and drained; closed distinguishes the two.
func (q *Queue) Pop(timeout time.Duration) (msg []byte, ok, closed bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		msg, ok, done := q.tryPop()
		if ok {
			q.rearm()
			return msg, true, false
		}
		if done {
			q.signal() // let any later caller see the close too
			return nil, false, true
		}

		select {
		case <-q.ready:
		case <-timer.C:
			return nil, false, false
		}
	}
}

// PopWait blocks until a message arrives or the queue is closed and drained
func (q *Queue) PopWait() (msg []byte, ok bool) {
	for {
		msg, ok, done := q.tryPop()
		if ok {
			q.rearm()
			return msg, true
		}
		if done {
			q.signal()
			return nil, false
		}
		<-q.ready
	}
}

// rearm keeps the ready token set while items remain after a pop
func (q *Queue) rearm() {
	if q.Len() > 0 {
		q.signal()
	}
}
