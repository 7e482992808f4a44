// Package pqueue implements the bounded, priority-ordered event queue
// described in spec §4.A: a fixed-capacity min-heap keyed by
// (priority, sequence), guarded by one mutex and two condition variables.
//
// The locking shape follows the teacher's preference for explicit
// sync.RWMutex-guarded state with snapshot reads under the lock (see
// internal/orderbook.Book in the retrieved feed-simulator corpus) rather
// than a channel-only design — a priority queue needs peek-and-reorder
// semantics a plain channel cannot give us.
package pqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ndrandal/quantcell/internal/event"
)

// heapStore is the container/heap backing store, ordered by (priority, sequence).
type heapStore []*event.Event

func (h heapStore) Len() int            { return len(h) }
func (h heapStore) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h heapStore) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heapStore) Push(x any)         { *h = append(*h, x.(*event.Event)) }
func (h *heapStore) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a fixed-capacity min-heap of events. Zero value is not usable;
// construct with New.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	heap     heapStore
	capacity int
	closed   bool
}

// New creates a bounded priority queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		heap:     make(heapStore, 0, capacity),
		capacity: capacity,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put inserts ev into the queue.
//
// If the queue is full and block is false, Put returns false immediately.
// If block is true, Put waits on notFull until space is available, the
// timeout elapses (timeout <= 0 means wait forever), or the queue is closed.
func (q *Queue) Put(ev *event.Event, block bool, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.heap) >= q.capacity {
		if !block {
			return false
		}
		if !q.waitNotFull(timeout) {
			return false
		}
	}

	if q.closed {
		return false
	}

	heap.Push(&q.heap, ev)
	q.notEmpty.Signal()
	return true
}

// Get removes and returns the highest-priority, earliest-sequenced event.
//
// If the queue is empty and block is false, Get returns (nil, false)
// immediately. If block is true, Get waits on notEmpty until an event is
// available, the timeout elapses, or the queue is closed and drained.
func (q *Queue) Get(block bool, timeout time.Duration) (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		if q.closed {
			return nil, false
		}
		if !block {
			return nil, false
		}
		if !q.waitNotEmpty(timeout) {
			return nil, false
		}
		if len(q.heap) == 0 {
			return nil, false
		}
	}

	ev := heap.Pop(&q.heap).(*event.Event)
	q.notFull.Signal()
	return ev, true
}

// waitNotFull waits on the notFull condition, honoring timeout. Caller must
// hold q.mu. Returns false if the wait timed out or the queue was closed.
func (q *Queue) waitNotFull(timeout time.Duration) bool {
	return q.waitUntil(q.notFull, timeout, func() bool {
		return q.closed || len(q.heap) < q.capacity
	})
}

// waitNotEmpty is the notEmpty counterpart of waitNotFull.
func (q *Queue) waitNotEmpty(timeout time.Duration) bool {
	return q.waitUntil(q.notEmpty, timeout, func() bool {
		return q.closed || len(q.heap) > 0
	})
}

// waitUntil blocks on cond until ready() is true or timeout elapses.
// Negative or zero timeout means wait indefinitely. Must be called with
// q.mu held; cond must share q.mu as its Locker.
func (q *Queue) waitUntil(cond *sync.Cond, timeout time.Duration, ready func() bool) bool {
	if ready() {
		return true
	}
	if timeout <= 0 {
		for !ready() {
			cond.Wait()
		}
		return true
	}

	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	timedOut := false

	// sync.Cond has no native timed wait; emulate it with a timer that
	// broadcasts the condition once the deadline passes so the waiting
	// goroutine wakes up and re-checks ready().
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		timedOut = true
		cond.Broadcast()
		q.mu.Unlock()
		close(done)
	})
	defer timer.Stop()

	for !ready() {
		if timedOut {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		cond.Wait()
	}
	return true
}

// Size returns the current number of queued events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) >= q.capacity
}

// Close marks the queue closed and wakes all waiters. Subsequent Put calls
// fail; Get continues to drain remaining events until empty.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
