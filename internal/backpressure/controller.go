// Package backpressure implements the BackpressureController (spec.md
// §4.6): threshold-driven pressure computation, an adaptive throttle
// factor, and the derived drop/defer/throttle decisions the dispatch
// pipeline consults on every publish.
//
// Grounded on the teacher's budget.Bucket threshold-crossing logic,
// which computes a ratio against a configured ceiling and derives a
// discrete action set from it (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/budget/token_bucket.go).
// Randomized decisions use math/rand/v2's PCG source seeded explicitly,
// per SPEC_FULL.md's resolution of the "randomized throttling
// determinism" design note, so tests can reproduce should_drop /
// should_throttle_publisher outcomes exactly.
package backpressure

import (
	"math/rand/v2"
	"sync"

	"github.com/qipq/goatbus/internal/model"
)

// Action is one of the discrete interventions the controller can have
// active at a given pressure level.
type Action string

const (
	ActionEmergencyFlush     Action = "EMERGENCY_FLUSH"
	ActionDropLowPriority    Action = "DROP_LOW_PRIORITY"
	ActionThrottlePublishers Action = "THROTTLE_PUBLISHERS"
	ActionBatchAggressively  Action = "BATCH_AGGRESSIVELY"
	ActionDeferNonCritical   Action = "DEFER_NON_CRITICAL"
)

// Thresholds holds the per-metric ceilings pressure is computed
// against (spec.md §4.6 defaults).
type Thresholds struct {
	QueueUtilization float64
	ProcessingRate   float64
	MemoryPressure   float64
	FrameBudget      float64
}

// DefaultThresholds returns the spec.md default threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueUtilization: 0.8,
		ProcessingRate:   0.9,
		MemoryPressure:   0.85,
		FrameBudget:      0.8,
	}
}

// Metrics is the latest metrics snapshot fed to update_metrics. A zero
// value for a field means "not reported this cycle" and it is excluded
// from the pressure computation — use the pointer-like Has* flags.
type Metrics struct {
	QueueUtilization float64
	HasQueue         bool
	ProcessingRate   float64
	HasProcessing    bool
	MemoryPressure   float64
	HasMemory        bool
	FrameBudgetUsed  float64
	HasFrameBudget   bool
}

// Notification is delivered to registered callbacks when the throttle
// factor moves by more than 0.1 in one update (spec.md §4.6).
type Notification struct {
	Pressure  float64
	Old       float64
	New       float64
	Actions   []Action
	Timestamp float64
}

// nonCriticalEvents is the default deferrable event-name set (spec.md
// §4.6, should_defer).
var nonCriticalEvents = map[string]struct{}{
	"debug_info_updated": {},
	"metrics_collected":  {},
	"status_report":      {},
	"performance_stats":  {},
	"subscription_stats": {},
}

// Controller is the BackpressureController.
type Controller struct {
	mu sync.Mutex

	thresholds  Thresholds
	adaptive    bool
	pressure    float64
	throttle    float64
	actions     map[Action]struct{}
	nonCritical map[string]struct{}
	callbacks   []func(Notification)
	rng         *rand.Rand
}

// New creates a Controller with default thresholds, adaptive mode on,
// and a deterministic RNG seeded from seed (SPEC_FULL.md §1B/§9).
func New(seed uint64) *Controller {
	return &Controller{
		thresholds:  DefaultThresholds(),
		adaptive:    true,
		throttle:    1.0,
		actions:     make(map[Action]struct{}),
		nonCritical: cloneSet(nonCriticalEvents),
		rng:         rand.New(rand.NewPCG(seed, seed)),
	}
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

// SetThreshold updates a single named threshold ("queue_utilization",
// "processing_rate", "memory_pressure", "frame_budget").
func (c *Controller) SetThreshold(metric string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch metric {
	case "queue_utilization":
		c.thresholds.QueueUtilization = value
	case "processing_rate":
		c.thresholds.ProcessingRate = value
	case "memory_pressure":
		c.thresholds.MemoryPressure = value
	case "frame_budget":
		c.thresholds.FrameBudget = value
	}
}

// SetAdaptive toggles adaptive throttle-factor computation. When off,
// throttle stays pinned at 1.0 (no throttling).
func (c *Controller) SetAdaptive(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptive = on
}

// SetNonCritical replaces the deferrable event-name set.
func (c *Controller) SetNonCritical(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonCritical = model.NewFilterSet(names)
	if c.nonCritical == nil {
		c.nonCritical = make(map[string]struct{})
	}
}

// OnThrottleChange registers a callback invoked when |Δthrottle| > 0.1.
func (c *Controller) OnThrottleChange(cb func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// UpdateMetrics recomputes pressure, the adaptive throttle factor, and
// the active action set, then fires callbacks if the throttle moved by
// more than 0.1.
func (c *Controller) UpdateMetrics(m Metrics, now float64) {
	c.mu.Lock()

	pressure := 0.0
	consider := func(current float64, has bool, threshold float64) {
		if !has || threshold <= 0 {
			return
		}
		ratio := current / threshold
		if ratio > pressure {
			pressure = ratio
		}
	}
	consider(m.QueueUtilization, m.HasQueue, c.thresholds.QueueUtilization)
	consider(m.ProcessingRate, m.HasProcessing, c.thresholds.ProcessingRate)
	consider(m.MemoryPressure, m.HasMemory, c.thresholds.MemoryPressure)
	consider(m.FrameBudgetUsed, m.HasFrameBudget, c.thresholds.FrameBudget)
	if pressure < 0 {
		pressure = 0
	}
	if pressure > 2 {
		pressure = 2
	}
	c.pressure = pressure

	oldThrottle := c.throttle
	newThrottle := 1.0
	if c.adaptive {
		switch {
		case pressure <= 0.5:
			newThrottle = 1.0
		case pressure <= 1.0:
			newThrottle = 1.0 - (pressure - 0.5)
		default:
			newThrottle = 0.5 - (pressure-1.0)*0.4
			if newThrottle < 0.1 {
				newThrottle = 0.1
			}
		}
	}
	c.throttle = newThrottle

	actions := make(map[Action]struct{})
	switch {
	case pressure > 0.9:
		actions[ActionEmergencyFlush] = struct{}{}
		actions[ActionDropLowPriority] = struct{}{}
	case pressure > 0.8:
		actions[ActionThrottlePublishers] = struct{}{}
		actions[ActionBatchAggressively] = struct{}{}
	case pressure > 0.6:
		actions[ActionDeferNonCritical] = struct{}{}
	}
	c.actions = actions

	delta := newThrottle - oldThrottle
	if delta < 0 {
		delta = -delta
	}
	var notify []func(Notification)
	var notification Notification
	if delta > 0.1 {
		notify = append(notify, c.callbacks...)
		notification = Notification{
			Pressure:  pressure,
			Old:       oldThrottle,
			New:       newThrottle,
			Actions:   actionList(actions),
			Timestamp: now,
		}
	}
	c.mu.Unlock()

	for _, cb := range notify {
		cb(notification)
	}
}

func actionList(set map[Action]struct{}) []Action {
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// Pressure returns the most recently computed pressure value.
func (c *Controller) Pressure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressure
}

// Throttle returns the current adaptive throttle factor.
func (c *Controller) Throttle() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle
}

func (c *Controller) hasAction(a Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.actions[a]
	return ok
}

// ShouldDrop reports whether an event of the given priority should be
// dropped under DROP_LOW_PRIORITY pressure (spec.md §4.6).
func (c *Controller) ShouldDrop(priority model.Priority) bool {
	if !c.hasAction(ActionDropLowPriority) || priority > model.Low {
		return false
	}
	c.mu.Lock()
	throttle := c.throttle
	sample := c.rng.Float64()
	c.mu.Unlock()
	return sample > throttle
}

// ShouldDefer reports whether publishing eventName should be deferred
// under DEFER_NON_CRITICAL pressure (spec.md §4.6).
func (c *Controller) ShouldDefer(eventName string) bool {
	if !c.hasAction(ActionDeferNonCritical) {
		return false
	}
	c.mu.Lock()
	_, nonCritical := c.nonCritical[eventName]
	c.mu.Unlock()
	return nonCritical
}

// ShouldThrottlePublisher reports whether a publisher at the given
// priority should be throttled (spec.md §4.6).
func (c *Controller) ShouldThrottlePublisher(priority model.Priority) bool {
	c.mu.Lock()
	throttle := c.throttle
	sample := c.rng.Float64()
	c.mu.Unlock()

	div := int(priority)
	if div < 1 {
		div = 1
	}
	return sample > throttle/float64(div)
}

// NeedsEmergencyFlush reports whether EMERGENCY_FLUSH is currently
// active.
func (c *Controller) NeedsEmergencyFlush() bool {
	return c.hasAction(ActionEmergencyFlush)
}
