/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package queue provides the bounded FIFO holding area for admitted proving
// requests. Entries are produced by the admission gate and consumed by
// dispatcher loops; the queue is safe for concurrent producers and consumers.
package queue

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
)

// ErrFull is returned by TryEnqueue when the queue is at capacity.
// Enqueueing never blocks: the caller is expected to answer with backpressure.
var ErrFull = errors.New("too many requests in the queue")

// Job is the opaque proving request taken off a client connection.
type Job struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Result is the terminal outcome of dispatching an entry: either the worker's
// response or the error that ended the dispatch.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// Entry is one admitted, not-yet-completed proving request.
//
// The entry is owned by the queue from TryEnqueue until a dispatcher removes
// it; after that the claiming dispatcher is its sole owner. Attempts and
// Requeues are bookkeeping of that single owner and need no synchronization.
type Entry struct {
	ID         string
	EnqueuedAt time.Time
	Job        *Job

	// Attempts counts transport-level dispatch failures for this entry.
	Attempts int
	// Requeues counts how many times the entry was put back because
	// no healthy worker was available.
	Requeues int

	completeOnce sync.Once
	result       chan Result
}

// NewEntry creates an entry for the given job with a fresh request ID.
func NewEntry(job *Job) *Entry {
	return &Entry{
		ID:         xid.New().String(),
		EnqueuedAt: time.Now(),
		Job:        job,
		result:     make(chan Result, 1),
	}
}

// Complete delivers the terminal outcome to the waiter.
// Only the first call has effect; an entry is completed exactly once.
func (e *Entry) Complete(res Result) {
	e.completeOnce.Do(func() {
		e.result <- res
	})
}

// Wait blocks until the entry is completed or the context is done.
func (e *Entry) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-e.result:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Queue is a bounded FIFO container of entries.
type Queue struct {
	capacity int

	mu      sync.Mutex
	entries []*Entry

	notEmpty chan struct{}
}

// New creates a queue with the given fixed capacity.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
	}
}

// TryEnqueue appends the entry to the tail of the queue.
// It returns ErrFull immediately when the queue is at capacity and has no
// other side effects on that path.
func (q *Queue) TryEnqueue(e *Entry) error {
	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		q.mu.Unlock()
		return ErrFull
	}
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	q.wakeup()
	return nil
}

// RequeueFront puts an already claimed entry back at the head of the queue so
// that its position relative to still-pending entries is preserved. The entry
// re-enters even if producers have refilled the queue in the meantime: a
// claimed entry keeps its admission.
func (q *Queue) RequeueFront(e *Entry) {
	q.mu.Lock()
	q.entries = append([]*Entry{e}, q.entries...)
	q.mu.Unlock()
	q.wakeup()
}

// Dequeue removes and returns the entry at the head of the queue, blocking
// while the queue is empty. It returns the context error when ctx is done,
// which is how dispatcher loops learn about shutdown.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			e := q.entries[0]
			q.entries[0] = nil
			q.entries = q.entries[1:]
			stillPending := len(q.entries) > 0
			q.mu.Unlock()
			if stillPending {
				q.wakeup()
			}
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// Len returns the current number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Cap returns the queue capacity fixed at construction.
func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) wakeup() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
