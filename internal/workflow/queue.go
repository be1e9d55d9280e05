package workflow

import (
	"sync"

	"github.com/roach88/pipewright/internal/module"
)

// result is what a job goroutine reports back to the Run loop.
type result struct {
	jobID    string
	manifest module.Manifest
	err      error
}

// resultQueue is a thread-safe FIFO of job results.
//
// Job goroutines Enqueue; only the Run loop drains. The queue is unbounded
// so a finishing job never blocks on a busy loop.
//
// The signal channel enables context-aware waiting in the Run loop.
type resultQueue struct {
	mu      sync.Mutex
	results []result
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
}

func newResultQueue() *resultQueue {
	return &resultQueue{
		results: make([]result, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a result to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *resultQueue) Enqueue(r result) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.results = append(q.results, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued result, oldest first.
// Returns nil if the queue is empty.
func (q *resultQueue) Drain() []result {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.results) == 0 {
		return nil
	}
	out := q.results
	q.results = make([]result, 0, cap(out))
	return out
}

// Wait returns a channel that signals when results may be available.
func (q *resultQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *resultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

// Close rejects further results. Jobs still running after the loop returns
// have nowhere to report to.
func (q *resultQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
