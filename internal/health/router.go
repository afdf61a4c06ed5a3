// Package health implements the HealthRouter (spec.md §4.8):
// per-system health tracking, routing-threshold crossing detection,
// and publish-time priority adjustment.
//
// Grounded on the teacher's gossip.Quorum, which caches a per-peer
// health score and emits a signal exactly when a peer crosses the
// quorum-membership threshold rather than on every update (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/gossip/quorum.go).
package health

import (
	"sync"

	"github.com/qipq/goatbus/internal/model"
)

// Thresholds holds the routing/warning/critical health-score ceilings
// (spec.md §4.8 defaults).
type Thresholds struct {
	Routing  float64
	Warning  float64
	Critical float64
}

// DefaultThresholds returns the spec.md default threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{Routing: 0.2, Warning: 0.5, Critical: 0.1}
}

// systemHealth is the cached per-system entry.
type systemHealth struct {
	failureProbability float64
	currentState        string
	routed               bool
}

func (h systemHealth) score() float64 { return 1 - h.failureProbability }

// Recommendation is the result of recommend(event_name, systems)
// (spec.md §4.8).
type Recommendation struct {
	Recommended []string
	Blocked     []string
	Degraded    []string
	Overall     string
}

// RoutingChange is emitted (via the bus's signalbus) when a system's
// route decision flips.
type RoutingChange struct {
	System    string
	OldRouted bool
	NewRouted bool
	Score     float64
}

// Router is the HealthRouter.
type Router struct {
	mu         sync.Mutex
	thresholds Thresholds
	systems    map[string]*systemHealth
	onChange   []func(RoutingChange)
}

// New creates a Router with default thresholds.
func New() *Router {
	return &Router{
		thresholds: DefaultThresholds(),
		systems:    make(map[string]*systemHealth),
	}
}

// SetThresholds replaces the threshold set.
func (r *Router) SetThresholds(t Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds = t
}

// OnRoutingChange registers a callback fired when a system's routed
// flag flips.
func (r *Router) OnRoutingChange(cb func(RoutingChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, cb)
}

// Update sets system's failure probability and current state, flipping
// and announcing the route decision if the health score crosses the
// routing threshold.
func (r *Router) Update(system string, failureProbability float64, currentState string) {
	r.mu.Lock()
	entry, ok := r.systems[system]
	if !ok {
		entry = &systemHealth{routed: true}
		r.systems[system] = entry
	}
	entry.failureProbability = failureProbability
	entry.currentState = currentState

	newRouted := entry.score() > r.thresholds.Routing
	changed := newRouted != entry.routed
	old := entry.routed
	entry.routed = newRouted
	score := entry.score()
	callbacks := append([]func(RoutingChange){}, r.onChange...)
	r.mu.Unlock()

	if changed {
		change := RoutingChange{System: system, OldRouted: old, NewRouted: newRouted, Score: score}
		for _, cb := range callbacks {
			cb(change)
		}
	}
}

// ShouldRoute reports whether events should route to system. When
// priorityAdjustment is negative, the health score must exceed
// routing_threshold + |adjustment|*0.1, not merely the base threshold
// (spec.md §4.8).
func (r *Router) ShouldRoute(system string, priorityAdjustment int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.systems[system]
	if !ok {
		return true
	}
	if !entry.routed {
		return false
	}
	if priorityAdjustment < 0 {
		adj := float64(-priorityAdjustment)
		return entry.score() > r.thresholds.Routing+adj*0.1
	}
	return true
}

// Recommend evaluates every system in systems for eventName and
// returns the aggregate recommendation (spec.md §4.8).
func (r *Router) Recommend(eventName string, systems []string) Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec Recommendation
	for _, sys := range systems {
		entry, ok := r.systems[sys]
		if !ok {
			rec.Recommended = append(rec.Recommended, sys)
			continue
		}
		switch {
		case entry.score() <= r.thresholds.Critical:
			rec.Blocked = append(rec.Blocked, sys)
		case entry.score() <= r.thresholds.Warning:
			rec.Degraded = append(rec.Degraded, sys)
			rec.Recommended = append(rec.Recommended, sys)
		default:
			rec.Recommended = append(rec.Recommended, sys)
		}
	}

	switch {
	case len(systems) > 0 && len(rec.Blocked) == len(systems):
		rec.Overall = "block"
	case len(rec.Degraded) > 0:
		rec.Overall = "proceed_with_caution"
	default:
		rec.Overall = "proceed"
	}
	return rec
}

// AdjustPriority computes the publish-time priority adjustment for
// targets based on their minimum health score (spec.md §4.8):
// min < 0.5 → LOW; min < 0.8 → max(LOW, priority-1); else unchanged.
func (r *Router) AdjustPriority(priority model.Priority, targets []string) model.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(targets) == 0 {
		return priority
	}
	minHealth := 1.0
	for _, sys := range targets {
		entry, ok := r.systems[sys]
		if !ok {
			continue
		}
		if s := entry.score(); s < minHealth {
			minHealth = s
		}
	}

	switch {
	case minHealth < 0.5:
		return model.Low
	case minHealth < 0.8:
		adjusted := priority - 1
		if adjusted < model.Low {
			adjusted = model.Low
		}
		return adjusted
	default:
		return priority
	}
}
