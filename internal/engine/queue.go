package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("engine: queue closed")

// Overflow policies.
const (
	PolicyUnbounded  = "unbounded"
	PolicyDropOldest = "drop-oldest"
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	Policy    string // PolicyUnbounded (default) or PolicyDropOldest
	Capacity  int    // max length under PolicyDropOldest
	HighWater int    // warn when the length first reaches this; 0 disables
}

// Queue is the FIFO between the feed's producer goroutines and the single
// consumer. Push never blocks.
type Queue[T any] struct {
	opts  QueueOptions
	log   *slog.Logger
	ready chan struct{}

	mu      sync.Mutex
	items   []T
	closed  bool
	dropped int
	warned  bool
}

// NewQueue returns an empty queue.
func NewQueue[T any](opts QueueOptions, logger *slog.Logger) (*Queue[T], error) {
	switch opts.Policy {
	case "":
		opts.Policy = PolicyUnbounded
	case PolicyUnbounded:
	case PolicyDropOldest:
		if opts.Capacity <= 0 {
			return nil, fmt.Errorf("queue policy %s needs a positive capacity", opts.Policy)
		}
	default:
		return nil, fmt.Errorf("unknown queue policy %q", opts.Policy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue[T]{
		opts:  opts,
		log:   logger.With("component", "queue"),
		ready: make(chan struct{}, 1),
	}, nil
}

// Push appends v. Under PolicyDropOldest a full queue discards its head
// first; the returned bool reports such a drop.
func (q *Queue[T]) Push(v T) (dropped bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if q.opts.Policy == PolicyDropOldest && len(q.items) >= q.opts.Capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, v)
	n := len(q.items)
	warn := false
	if q.opts.HighWater > 0 {
		if n >= q.opts.HighWater && !q.warned {
			q.warned = true
			warn = true
		} else if n < q.opts.HighWater/2 {
			q.warned = false
		}
	}
	q.mu.Unlock()

	if warn {
		q.log.Warn("queue above high water mark", "len", n, "high_water", q.opts.HighWater)
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, nil
}

// Ready is signalled after every Push. A receive may find the queue empty.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// Pop removes the head. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items the overflow policy discarded.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes. Queued items stay available to Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Discard empties the queue and returns how many items it held.
func (q *Queue[T]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
