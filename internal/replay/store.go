// Package replay implements the ReplayStore and ReplaySession
// (spec.md §4.4): a bounded global ring of published events, bounded
// per-subscriber rings, time-range queries, and controlled replay
// sessions over the global ring.
//
// Grounded on the teacher's storage.DB ledger, which is also an
// append-only, time-ordered, range-queryable log (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/storage/bolt.go).
// The teacher persists its ledger to BoltDB; GoatBus's non-goals
// explicitly exclude durability across restarts, so the ring lives
// purely in memory (a slice with oldest-out eviction instead of a
// BoltDB bucket with a sortable key) while keeping the same
// range-query and retention shape.
package replay

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/qipq/goatbus/internal/model"
)

// Ring is a capacity-bounded FIFO ring of events, oldest dropped on
// overflow. It backs both the global ring and each per-subscriber ring.
type Ring struct {
	mu       sync.RWMutex
	items    []model.Event
	capacity int
}

// NewRing creates a Ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{capacity: capacity}
}

// Add appends event, evicting the oldest entry on overflow.
func (r *Ring) Add(event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.capacity {
		r.items = r.items[1:]
	}
	r.items = append(r.items, event)
}

// Len returns the current number of events retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Range returns every event with timestamp in [start, end] whose name
// is in filters (an empty filter set matches every name).
func (r *Ring) Range(start, end float64, filters map[string]struct{}) []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Event
	for _, e := range r.items {
		if e.Timestamp >= start && e.Timestamp <= end && e.Matches(filters) {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns a copy of every event currently retained, oldest
// first.
func (r *Ring) Snapshot() []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Event, len(r.items))
	copy(out, r.items)
	return out
}

// Store is the ReplayStore: one global Ring plus one Ring per
// subscriber that has replay enabled.
type Store struct {
	mu              sync.RWMutex
	global          *Ring
	perSubscriber   map[string]*Ring
	globalCapacity  int
}

// New creates a Store with the given global ring capacity (spec.md
// default 50000).
func New(globalCapacity int) *Store {
	if globalCapacity <= 0 {
		globalCapacity = 50000
	}
	return &Store{
		global:         NewRing(globalCapacity),
		perSubscriber:  make(map[string]*Ring),
		globalCapacity: globalCapacity,
	}
}

// EnableSubscriber creates a per-subscriber ring of the given capacity.
// Safe to call more than once; re-creates the ring.
func (s *Store) EnableSubscriber(subscriptionID string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perSubscriber[subscriptionID] = NewRing(capacity)
}

// DisableSubscriber removes a subscriber's ring (called on
// unsubscribe/maintenance).
func (s *Store) DisableSubscriber(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.perSubscriber, subscriptionID)
}

// Add appends event to the global ring and to every subscriber ring
// that currently exists.
func (s *Store) Add(event model.Event) {
	s.mu.RLock()
	rings := make([]*Ring, 0, len(s.perSubscriber))
	for _, r := range s.perSubscriber {
		rings = append(rings, r)
	}
	s.mu.RUnlock()

	s.global.Add(event)
	for _, r := range rings {
		r.Add(event)
	}
}

// GlobalLen returns the current size of the global ring.
func (s *Store) GlobalLen() int { return s.global.Len() }

// GetRange returns every global-ring event with timestamp in
// [start, end] matching filters.
func (s *Store) GetRange(start, end float64, filters map[string]struct{}) []model.Event {
	return s.global.Range(start, end, filters)
}

// SubscriberRing returns the per-subscriber ring, or nil if replay was
// never enabled for that subscription.
func (s *Store) SubscriberRing(subscriptionID string) *Ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perSubscriber[subscriptionID]
}

// NewSessionID generates a globally-unique replay session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// sortByTimestamp sorts events ascending by timestamp (the global ring
// preserves insertion order already, but a session's matched slice is
// recomputed fresh on Start so this guards against any future
// non-append mutation of the ring).
func sortByTimestamp(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
}
