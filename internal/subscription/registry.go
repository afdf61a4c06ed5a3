// Package subscription implements the SubscriptionRegistry (spec.md
// §4.1): event-name → ordered subscriber list, with weak owner
// tracking, per-subscription degraded-handler bookkeeping, and
// atomic creation of a personal queue / replay buffer at subscribe
// time.
//
// Grounded on the teacher's escalation.ProcessState, which keeps an
// ordered, per-key slice guarded by its own mutex and prunes entries
// whose backing process has exited (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/escalation/state_machine.go).
// GoatBus subscriptions are pruned on owner collection rather than
// process exit, using internal/owner's weak.Pointer wrapper instead of
// a PID liveness check.
package subscription

import (
	"sync"

	"github.com/google/uuid"

	"github.com/qipq/goatbus/internal/owner"
	"github.com/qipq/goatbus/internal/queue"
	"github.com/qipq/goatbus/internal/replay"
)

// Handler is the callback invoked on dispatch. A non-nil error marks
// the invocation a HandlerFailure (spec.md §7).
type Handler func(payload map[string]any) error

// Options configures a subscription at creation time (spec.md §4.1).
type Options struct {
	QueueEnabled  bool
	QueueSize     int
	DropPolicy    queue.DropPolicy
	ReplayEnabled bool
	ReplaySize    int
	MaxConcurrent int
	// System names the subscriber's owning system for HealthRouter
	// purposes (spec.md §4.8). Empty means unrouted: always delivered.
	System string
}

// degradeThreshold is the number of consecutive handler failures after
// which a subscription is marked degraded but not removed (spec.md §7).
const degradeThreshold = 3

// Subscription is one entry in the registry.
type Subscription struct {
	mu sync.Mutex

	ID            string
	EventName     string
	Handler       Handler
	OwnerRef      owner.WeakRef
	CreatedAt     float64
	MaxConcurrent int
	System        string

	PersonalQueue *queue.Queue
	ReplayBuffer  *replay.Ring

	processingCount     int
	consecutiveFailures int
	degraded            bool
}

// Alive reports whether the subscription's owner is still live and its
// handler is non-nil. An invalid subscription is skipped at dispatch
// and pruned by maintenance (spec.md §8 invariant 5).
func (s *Subscription) Alive() bool {
	if s.Handler == nil {
		return false
	}
	return owner.IsAlive(s.OwnerRef)
}

// Degraded reports whether 3+ consecutive handler failures have been
// recorded (spec.md §7, HandlerFailure).
func (s *Subscription) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// RecordSuccess resets the consecutive-failure counter.
func (s *Subscription) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.degraded = false
}

// RecordFailure increments the consecutive-failure counter and marks
// the subscription degraded at the threshold.
func (s *Subscription) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= degradeThreshold {
		s.degraded = true
	}
}

// BeginProcessing / EndProcessing bound MaxConcurrent invocations in
// flight for this subscription.
func (s *Subscription) BeginProcessing() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MaxConcurrent > 0 && s.processingCount >= s.MaxConcurrent {
		return false
	}
	s.processingCount++
	return true
}

func (s *Subscription) EndProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processingCount > 0 {
		s.processingCount--
	}
}

// Registry maps event name to its ordered subscriber list.
type Registry struct {
	mu            sync.RWMutex
	byEvent       map[string][]*Subscription
	byID          map[string]*Subscription
	replayStore   *replay.Store
	defaultPolicy queue.DropPolicy
	threshold     float64
}

// New creates an empty Registry. replayStore is used to wire a
// per-subscriber replay ring atomically when ReplayEnabled is set.
func New(replayStore *replay.Store, defaultPolicy queue.DropPolicy, backpressureThreshold float64) *Registry {
	return &Registry{
		byEvent:       make(map[string][]*Subscription),
		byID:          make(map[string]*Subscription),
		replayStore:   replayStore,
		defaultPolicy: defaultPolicy,
		threshold:     backpressureThreshold,
	}
}

// Subscribe registers handler for eventName under owner (may be nil for
// an always-alive subscription), creating a personal queue and/or
// replay buffer atomically if requested. Returns the new subscription
// ID.
func (r *Registry) Subscribe(eventName string, handler Handler, ownerRef owner.WeakRef, opts Options, now float64) string {
	if ownerRef == nil {
		ownerRef = owner.Always()
	}
	id := uuid.NewString()
	sub := &Subscription{
		ID:            id,
		EventName:     eventName,
		Handler:       handler,
		OwnerRef:      ownerRef,
		CreatedAt:     now,
		MaxConcurrent: opts.MaxConcurrent,
		System:        opts.System,
	}

	if opts.QueueEnabled {
		size := opts.QueueSize
		if size <= 0 {
			size = 1000
		}
		policy := opts.DropPolicy
		sub.PersonalQueue = queue.New(id, size, policy, r.threshold, nil)
	}
	if opts.ReplayEnabled && r.replayStore != nil {
		size := opts.ReplaySize
		if size <= 0 {
			size = 1000
		}
		r.replayStore.EnableSubscriber(id, size)
		sub.ReplayBuffer = r.replayStore.SubscriberRing(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEvent[eventName] = append(r.byEvent[eventName], sub)
	r.byID[id] = sub
	return id
}

// Unsubscribe removes subscription id from eventName's list. Returns
// false if no such subscription exists.
func (r *Registry) Unsubscribe(eventName, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.byEvent[eventName]
	if !ok {
		return false
	}
	for i, s := range list {
		if s.ID == id {
			r.byEvent[eventName] = append(list[:i:i], list[i+1:]...)
			delete(r.byID, id)
			if r.replayStore != nil {
				r.replayStore.DisableSubscriber(id)
			}
			return true
		}
	}
	return false
}

// UnsubscribeAll removes every subscription whose owner matches
// ownerRef (identity compared via the owner package) and returns how
// many were removed.
func (r *Registry) UnsubscribeAll(ownerRef owner.WeakRef) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for event, list := range r.byEvent {
		kept := list[:0:0]
		for _, s := range list {
			if s.OwnerRef == ownerRef {
				count++
				delete(r.byID, s.ID)
				if r.replayStore != nil {
					r.replayStore.DisableSubscriber(s.ID)
				}
				continue
			}
			kept = append(kept, s)
		}
		r.byEvent[event] = kept
	}
	return count
}

// CleanupInvalid removes every subscription that is no longer Alive()
// and returns how many were pruned (spec.md §4.11 maintenance pass).
func (r *Registry) CleanupInvalid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for event, list := range r.byEvent {
		kept := list[:0:0]
		for _, s := range list {
			if !s.Alive() {
				count++
				delete(r.byID, s.ID)
				if r.replayStore != nil {
					r.replayStore.DisableSubscriber(s.ID)
				}
				continue
			}
			kept = append(kept, s)
		}
		r.byEvent[event] = kept
	}
	return count
}

// FindByID returns the subscription with the given ID, or nil.
func (r *Registry) FindByID(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Subscribers returns the ordered subscriber list for eventName. The
// returned slice is a shallow copy safe to iterate without holding the
// registry lock during dispatch.
func (r *Registry) Subscribers(eventName string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byEvent[eventName]
	out := make([]*Subscription, len(list))
	copy(out, list)
	return out
}

// Count returns the total number of live-tracked subscriptions across
// all event names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// EventNames returns every event name with at least one subscription,
// letting callers (ProcessQueuedEvents, maintenance) enumerate
// per-subscriber queues without a separate name index.
func (r *Registry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byEvent))
	for name, list := range r.byEvent {
		if len(list) > 0 {
			names = append(names, name)
		}
	}
	return names
}
