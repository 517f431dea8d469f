// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the ordered hand-off buffer between the capture
// path and the streaming worker.
package queue

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/mtrace/internal/pkg/event"
)

// Policy is the behavior of a bounded queue when it is full.
type Policy int

const (
	// PolicyDropNewest discards the event being pushed.
	PolicyDropNewest Policy = iota
	// PolicyDropOldest discards the event at the head of the queue.
	PolicyDropOldest
	// PolicyBlock makes the producer wait for space up to the block
	// timeout, then discards the event being pushed.
	PolicyBlock
)

func (p Policy) String() string {
	switch p {
	case PolicyDropNewest:
		return "drop-newest"
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyBlock:
		return "block"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy returns the Policy named by s.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "drop-newest":
		return PolicyDropNewest, nil
	case "drop-oldest":
		return PolicyDropOldest, nil
	case "block":
		return PolicyBlock, nil
	}
	return 0, fmt.Errorf("unknown overflow policy: %q", s)
}

const defaultBlockTimeout = 100 * time.Millisecond

// Queue is a FIFO of trace events shared by any number of producers and a
// single consumer. All mutation happens under one mutex, so the consumer
// observes events in exactly the order Push acquired it.
type Queue struct {
	mu    sync.Mutex
	items []event.Event

	capacity     int
	policy       Policy
	blockTimeout time.Duration
	onDrop       func(n int)

	dropped atomic.Uint64
	ready   chan struct{}
	space   chan struct{}
}

// Option configures a [Queue].
type Option func(*Queue)

// WithCapacity bounds the queue to n events. Zero or less is unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) { q.capacity = n }
}

// WithPolicy sets the overflow policy of a bounded queue.
func WithPolicy(p Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithBlockTimeout sets how long [PolicyBlock] waits for space.
func WithBlockTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

// WithDropHandler registers fn to be called with the number of events
// discarded each time the queue drops events.
func WithDropHandler(fn func(n int)) Option {
	return func(q *Queue) { q.onDrop = fn }
}

// New returns an empty Queue. Without options it is unbounded.
func New(opts ...Option) *Queue {
	q := &Queue{
		blockTimeout: defaultBlockTimeout,
		ready:        make(chan struct{}, 1),
		space:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends e. It returns false if e was discarded by the overflow
// policy.
func (q *Queue) Push(e event.Event) bool {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		switch q.policy {
		case PolicyDropOldest:
			q.items = append(q.items[1:], e)
			q.mu.Unlock()
			q.drop(1)
			notify(q.ready)
			return true
		case PolicyBlock:
			q.mu.Unlock()
			return q.pushWait(e)
		default:
			q.mu.Unlock()
			q.drop(1)
			return false
		}
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	notify(q.ready)
	return true
}

func (q *Queue) pushWait(e event.Event) bool {
	timer := time.NewTimer(q.blockTimeout)
	defer timer.Stop()

	for {
		select {
		case <-q.space:
		case <-timer.C:
			q.drop(1)
			return false
		}

		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, e)
			more := len(q.items) < q.capacity
			q.mu.Unlock()

			if more {
				// Pass the wake-up on to the next waiting producer.
				notify(q.space)
			}
			notify(q.ready)
			return true
		}
		q.mu.Unlock()
	}
}

// DrainAll removes and returns every queued event in FIFO order.
func (q *Queue) DrainAll() []event.Event {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()

	if len(out) > 0 {
		notify(q.space)
	}
	return out
}

// Requeue puts events back at the head of the queue, ahead of anything
// pushed since they were drained. If that overflows a bounded queue the
// oldest requeued events are discarded.
func (q *Queue) Requeue(events []event.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	merged := make([]event.Event, 0, len(events)+len(q.items))
	merged = append(merged, events...)
	merged = append(merged, q.items...)

	var dropped int
	if q.capacity > 0 && len(merged) > q.capacity {
		dropped = len(merged) - q.capacity
		if dropped > len(events) {
			dropped = len(events)
		}
		merged = merged[dropped:]
	}
	q.items = merged
	q.mu.Unlock()

	if dropped > 0 {
		q.drop(dropped)
	}
	notify(q.ready)
}

// Discard drains the queue and counts every removed event as dropped. It
// returns the number of events discarded.
func (q *Queue) Discard() int {
	n := len(q.DrainAll())
	if n > 0 {
		q.drop(n)
	}
	return n
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of events discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Ready returns a channel that receives a value after events are added.
// Only one notification is buffered, so consumers must drain fully after
// each wake-up.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) drop(n int) {
	q.dropped.Add(uint64(n))
	if q.onDrop != nil {
		q.onDrop(n)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
