// Package queue implements PersistentQueues (spec.md §4.3): the bounded
// per-subscriber queue and the global backlog ring, plus the shared
// overflow-drop bookkeeping both use.
//
// Grounded on the teacher's kernel.Processor, whose event channel
// applies exactly this drop-on-overflow policy and increments a
// Prometheus drop counter on the default branch of a non-blocking send
// (see _examples/IAmSoThirsty-Project-AI/octoreflex/internal/kernel/events.go).
// GoatBus needs FIFO dequeue-from-either-end and three selectable
// policies rather than a single channel, so the ring is a slice-backed
// deque guarded by a mutex instead of a Go channel, but the "try to
// enqueue, drop and count on failure" shape is the same.
package queue

import (
	"sync"

	"go.uber.org/zap"

	"github.com/qipq/goatbus/internal/model"
)

// DropPolicy selects which event is sacrificed on overflow.
type DropPolicy int

const (
	DropOldest DropPolicy = iota
	DropNewest
	Block
)

func ParseDropPolicy(s string) (DropPolicy, bool) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, true
	case "drop_newest":
		return DropNewest, true
	case "block":
		return Block, true
	default:
		return DropOldest, false
	}
}

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Metrics is the per-queue metrics snapshot (spec.md §4.3).
type Metrics struct {
	Queued            int64
	Processed         int64
	Dropped           int64
	MaxDepth          int
	AvgDepth          float64
	BackpressureHits  int64
}

// Queue is a bounded, ordered sequence of events with FIFO dequeue. It
// backs a per-subscriber PersistentQueue; the process-wide backlog is
// the separate Backlog type below, and replay buffers live in package
// replay.
type Queue struct {
	mu       sync.Mutex
	items    []model.Event
	capacity int
	policy   DropPolicy
	// backpressureThreshold is the fraction of capacity that, once
	// crossed, increments BackpressureHits (spec.md §4.3).
	backpressureThreshold float64
	subscriptionID        string

	queued           int64
	processed        int64
	dropped          int64
	maxDepth         int
	depthSum         int64
	depthSamples     int64
	backpressureHits int64

	log *zap.Logger
}

// New creates a Queue with the given capacity and drop policy.
func New(subscriptionID string, capacity int, policy DropPolicy, backpressureThreshold float64, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if backpressureThreshold <= 0 {
		backpressureThreshold = 0.8
	}
	return &Queue{
		capacity:              capacity,
		policy:                policy,
		backpressureThreshold: backpressureThreshold,
		subscriptionID:        subscriptionID,
		log:                   log,
	}
}

// SetPolicy updates the overflow policy. Policy is process-global per
// spec.md §4.3, but each Queue stores its own copy so callers don't
// need a shared pointer.
func (q *Queue) SetPolicy(p DropPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policy = p
}

// Enqueue appends event, applying the overflow policy if the queue is
// at capacity. Returns ok=false when full under DropNewest (droppedCount
// 1) or Block (droppedCount 0): the event is rejected, QueueOverflow per
// spec.md §7. crossedBackpressure reports whether depth after this
// enqueue is at or above backpressureThreshold of capacity.
func (q *Queue) Enqueue(event model.Event) (ok bool, droppedCount int, crossedBackpressure bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		switch q.policy {
		case DropOldest:
			q.items = q.items[1:]
			q.dropped++
			droppedCount = 1
		case DropNewest:
			q.dropped++
			q.recordDepthLocked()
			return false, 1, false
		case Block:
			return false, 0, false
		}
	}

	q.items = append(q.items, event)
	q.queued++
	if len(q.items) > q.maxDepth {
		q.maxDepth = len(q.items)
	}
	if float64(len(q.items)) >= float64(q.capacity)*q.backpressureThreshold {
		q.backpressureHits++
		crossedBackpressure = true
	}
	q.recordDepthLocked()
	return true, droppedCount, crossedBackpressure
}

func (q *Queue) recordDepthLocked() {
	q.depthSum += int64(len(q.items))
	q.depthSamples++
}

// Dequeue removes and returns the oldest event (FIFO). ok is false if
// the queue is empty.
func (q *Queue) Dequeue() (event model.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Event{}, false
	}
	event = q.items[0]
	q.items = q.items[1:]
	q.processed++
	return event, true
}

// Requeue puts event back at the head of the queue, preserving FIFO
// order for the remaining items (spec.md §4.11, process_queued_events).
func (q *Queue) Requeue(event model.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]model.Event{event}, q.items...)
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue without affecting lifetime metrics.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// GetMetrics returns a snapshot of the queue's lifetime metrics.
func (q *Queue) GetMetrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	avg := 0.0
	if q.depthSamples > 0 {
		avg = float64(q.depthSum) / float64(q.depthSamples)
	}
	return Metrics{
		Queued:           q.queued,
		Processed:        q.processed,
		Dropped:          q.dropped,
		MaxDepth:         q.maxDepth,
		AvgDepth:         avg,
		BackpressureHits: q.backpressureHits,
	}
}

// Backlog is the process-wide global backlog ring (spec.md §4.3,
// default capacity 10000): append-on-publish, oldest-out overflow,
// no subscriber-specific drop policy choice (it is always drop_oldest).
type Backlog struct {
	mu       sync.Mutex
	items    []model.Event
	capacity int
}

// NewBacklog creates a Backlog with the given capacity.
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Backlog{capacity: capacity}
}

// Append adds event to the backlog, dropping the oldest entry on
// overflow.
func (b *Backlog) Append(event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
	}
	b.items = append(b.items, event)
}

// Len returns the current backlog size.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Utilization returns current size / capacity, used by the
// BackpressureController's queue_utilization metric.
func (b *Backlog) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity == 0 {
		return 0
	}
	return float64(len(b.items)) / float64(b.capacity)
}
