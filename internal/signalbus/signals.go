// Package signalbus implements the typed observer/broadcaster for the
// eight observable signals of spec.md §4.13: event_published,
// subscriber_queue_overflow, integration_event_processed,
// batch_processing_completed, dependency_connection_failed,
// dependencies_resolved, system_health_routing_updated,
// frame_budget_exceeded.
//
// Grounded on the teacher's gossip.PartitionSink interface (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/gossip/quorum.go).
// Emit with no registered observer is a no-op; with observers it calls
// each of them synchronously on the caller's goroutine.
package signalbus

import "sync"

// EventPublished fires after a successful publish dispatch.
type EventPublished struct {
	Name      string
	Priority  int
	Timestamp float64
}

// SubscriberQueueOverflow fires when a per-subscriber queue enqueue
// fails (spec.md §7, QueueOverflow).
type SubscriberQueueOverflow struct {
	SubscriptionID string
	DroppedCount   int
}

// IntegrationEventProcessed fires after an integration batch flush.
type IntegrationEventProcessed struct {
	Category  string
	Succeeded int
	Failed    int
}

// BatchProcessingCompleted fires after a phase batch flushed from the
// publish path finishes processing. Integration flushes report through
// IntegrationEventProcessed instead.
type BatchProcessingCompleted struct {
	Key       string
	Succeeded int
	Failed    int
	DurationS float64
}

// DependencyConnectionFailed fires when a required collaborator
// remains unbound after the host's retry budget is exhausted.
type DependencyConnectionFailed struct {
	Name string
}

// DependenciesResolved fires when the DependencyGate transitions to
// ready.
type DependenciesResolved struct {
	ReplayedOps int
}

// SystemHealthRoutingUpdated fires when a system's route decision
// flips (health.RoutingChange carries the detail).
type SystemHealthRoutingUpdated struct {
	System    string
	NewRouted bool
	Score     float64
}

// FrameBudgetExceeded fires when a frame's wall time exceeds the
// configured budget.
type FrameBudgetExceeded struct {
	FrameMillis float64
	BudgetMillis float64
}

// Bus is the typed signal broadcaster. Each signal type has its own
// subscriber list; Emit calls the callbacks synchronously, in
// registration order, so a callback that blocks or panics does so in
// the caller.
type Bus struct {
	mu sync.RWMutex

	eventPublished             []func(EventPublished)
	subscriberQueueOverflow    []func(SubscriberQueueOverflow)
	integrationEventProcessed  []func(IntegrationEventProcessed)
	batchProcessingCompleted   []func(BatchProcessingCompleted)
	dependencyConnectionFailed []func(DependencyConnectionFailed)
	dependenciesResolved       []func(DependenciesResolved)
	systemHealthRoutingUpdated []func(SystemHealthRoutingUpdated)
	frameBudgetExceeded        []func(FrameBudgetExceeded)
}

// New creates an empty signal Bus.
func New() *Bus { return &Bus{} }

func (b *Bus) OnEventPublished(cb func(EventPublished)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventPublished = append(b.eventPublished, cb)
}

func (b *Bus) OnSubscriberQueueOverflow(cb func(SubscriberQueueOverflow)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriberQueueOverflow = append(b.subscriberQueueOverflow, cb)
}

func (b *Bus) OnIntegrationEventProcessed(cb func(IntegrationEventProcessed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.integrationEventProcessed = append(b.integrationEventProcessed, cb)
}

func (b *Bus) OnBatchProcessingCompleted(cb func(BatchProcessingCompleted)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batchProcessingCompleted = append(b.batchProcessingCompleted, cb)
}

func (b *Bus) OnDependencyConnectionFailed(cb func(DependencyConnectionFailed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependencyConnectionFailed = append(b.dependencyConnectionFailed, cb)
}

func (b *Bus) OnDependenciesResolved(cb func(DependenciesResolved)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependenciesResolved = append(b.dependenciesResolved, cb)
}

func (b *Bus) OnSystemHealthRoutingUpdated(cb func(SystemHealthRoutingUpdated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemHealthRoutingUpdated = append(b.systemHealthRoutingUpdated, cb)
}

func (b *Bus) OnFrameBudgetExceeded(cb func(FrameBudgetExceeded)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameBudgetExceeded = append(b.frameBudgetExceeded, cb)
}

func (b *Bus) EmitEventPublished(ev EventPublished) {
	b.mu.RLock()
	subs := append([]func(EventPublished){}, b.eventPublished...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitSubscriberQueueOverflow(ev SubscriberQueueOverflow) {
	b.mu.RLock()
	subs := append([]func(SubscriberQueueOverflow){}, b.subscriberQueueOverflow...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitIntegrationEventProcessed(ev IntegrationEventProcessed) {
	b.mu.RLock()
	subs := append([]func(IntegrationEventProcessed){}, b.integrationEventProcessed...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitBatchProcessingCompleted(ev BatchProcessingCompleted) {
	b.mu.RLock()
	subs := append([]func(BatchProcessingCompleted){}, b.batchProcessingCompleted...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitDependencyConnectionFailed(ev DependencyConnectionFailed) {
	b.mu.RLock()
	subs := append([]func(DependencyConnectionFailed){}, b.dependencyConnectionFailed...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitDependenciesResolved(ev DependenciesResolved) {
	b.mu.RLock()
	subs := append([]func(DependenciesResolved){}, b.dependenciesResolved...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitSystemHealthRoutingUpdated(ev SystemHealthRoutingUpdated) {
	b.mu.RLock()
	subs := append([]func(SystemHealthRoutingUpdated){}, b.systemHealthRoutingUpdated...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}

func (b *Bus) EmitFrameBudgetExceeded(ev FrameBudgetExceeded) {
	b.mu.RLock()
	subs := append([]func(FrameBudgetExceeded){}, b.frameBudgetExceeded...)
	b.mu.RUnlock()
	for _, cb := range subs {
		cb(ev)
	}
}
