// Package window implements the TimeWindowEngine (spec.md §4.5):
// named tumbling/sliding windows over recent events with on-demand
// aggregation.
//
// Grounded on the teacher's budget.Bucket, a fixed-duration rolling
// accumulator that trims expired entries on every insert and recomputes
// its aggregate from what remains (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/budget/token_bucket.go).
// GoatBus generalizes this to multiple named windows, a choice of six
// aggregation kinds, and an optional periodic "slide" that refreshes a
// stored aggregation snapshot; trimming still happens on every insert.
package window

import (
	"sync"

	"github.com/qipq/goatbus/internal/model"
)

// Aggregation is one of the six supported aggregation kinds (spec.md §4.5).
type Aggregation string

const (
	AggCount                Aggregation = "count"
	AggAvgProcessingTime    Aggregation = "avg_processing_time"
	AggEventRate            Aggregation = "event_rate"
	AggUniqueEvents         Aggregation = "unique_events"
	AggPriorityDistribution Aggregation = "priority_distribution"
	AggErrorRate            Aggregation = "error_rate"
)

// Result holds the computed value for one aggregation kind. Exactly
// one of the typed fields is meaningful, selected by Kind.
type Result struct {
	Kind                 Aggregation
	Count                int
	AvgProcessingTime    float64
	EventRate            float64
	UniqueEvents         int
	PriorityDistribution map[string]int
	ErrorRate            float64
}

// Window is one named TimeWindow.
type Window struct {
	mu sync.Mutex

	ID            string
	Duration      float64
	SlideInterval float64
	Filters       map[string]struct{}
	Aggregations  []Aggregation
	MaxEvents     int

	events    []model.Event
	lastSlide float64
	current   map[Aggregation]Result
}

// New creates a Window. maxEvents <= 0 means unbounded (subject only
// to the duration trim).
func New(id string, duration, slideInterval float64, filters map[string]struct{}, aggregations []Aggregation, maxEvents int) *Window {
	return &Window{
		ID:            id,
		Duration:      duration,
		SlideInterval: slideInterval,
		Filters:       filters,
		Aggregations:  aggregations,
		MaxEvents:     maxEvents,
	}
}

// Accepts reports whether event routes into this window: the filter
// set is empty, or it contains event.Name.
func (w *Window) Accepts(event model.Event) bool {
	return event.Matches(w.Filters)
}

// Add inserts event (caller must have already checked Accepts), trims
// events older than now-Duration, enforces MaxEvents, and — if
// SlideInterval > 0 and a slide is due — replaces the current
// aggregation snapshot with a fresh one.
func (w *Window) Add(event model.Event, now float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events = append(w.events, event)

	cutoff := now - w.Duration
	kept := w.events[:0:0]
	for _, e := range w.events {
		if e.Timestamp > cutoff {
			kept = append(kept, e)
		}
	}
	w.events = kept

	if w.MaxEvents > 0 && len(w.events) > w.MaxEvents {
		w.events = w.events[len(w.events)-w.MaxEvents:]
	}

	if w.SlideInterval > 0 && now-w.lastSlide >= w.SlideInterval {
		w.current = w.computeLocked(now)
		w.lastSlide = now
	}
}

// Events returns a copy of the events currently retained in the window.
func (w *Window) Events() []model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Event, len(w.events))
	copy(out, w.events)
	return out
}

// Aggregate computes every configured aggregation over the events
// currently in the window (on-demand, spec.md §4.5 — not gated by
// SlideInterval). The snapshot that Add stores in w.current on each
// slide is separate from this result and has no exported accessor.
func (w *Window) Aggregate(now float64) map[Aggregation]Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.computeLocked(now)
}

func (w *Window) computeLocked(now float64) map[Aggregation]Result {
	out := make(map[Aggregation]Result, len(w.Aggregations))
	for _, kind := range w.Aggregations {
		switch kind {
		case AggCount:
			out[kind] = Result{Kind: kind, Count: len(w.events)}
		case AggAvgProcessingTime:
			sum, n := 0.0, 0
			for _, e := range w.events {
				if v, ok := positiveFloat(e.Payload["processing_time"]); ok {
					sum += v
					n++
				}
			}
			avg := 0.0
			if n > 0 {
				avg = sum / float64(n)
			}
			out[kind] = Result{Kind: kind, AvgProcessingTime: avg}
		case AggEventRate:
			rate := 0.0
			if w.Duration > 0 {
				rate = float64(len(w.events)) / w.Duration
			}
			out[kind] = Result{Kind: kind, EventRate: rate}
		case AggUniqueEvents:
			names := make(map[string]struct{})
			for _, e := range w.events {
				names[e.Name] = struct{}{}
			}
			out[kind] = Result{Kind: kind, UniqueEvents: len(names)}
		case AggPriorityDistribution:
			dist := make(map[string]int)
			for _, e := range w.events {
				dist[e.Priority.String()]++
			}
			out[kind] = Result{Kind: kind, PriorityDistribution: dist}
		case AggErrorRate:
			if len(w.events) == 0 {
				out[kind] = Result{Kind: kind, ErrorRate: 0}
				continue
			}
			failed := 0
			for _, e := range w.events {
				if truthy(e.Payload["error"]) || truthy(e.Payload["failed"]) {
					failed++
				}
			}
			out[kind] = Result{Kind: kind, ErrorRate: float64(failed) / float64(len(w.events))}
		}
	}
	return out
}

func positiveFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	return f, f > 0
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

// Engine is the TimeWindowEngine: a set of named Windows.
type Engine struct {
	mu      sync.RWMutex
	windows map[string]*Window
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{windows: make(map[string]*Window)}
}

// Create registers a new named window, replacing any existing window
// with the same id.
func (e *Engine) Create(id string, duration, slideInterval float64, filters map[string]struct{}, aggregations []Aggregation, maxEvents int) *Window {
	w := New(id, duration, slideInterval, filters, aggregations, maxEvents)
	e.mu.Lock()
	e.windows[id] = w
	e.mu.Unlock()
	return w
}

// Remove deletes a window by id.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, id)
}

// Get returns the window by id, or nil.
func (e *Engine) Get(id string) *Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.windows[id]
}

// AddEvent routes event into every window that accepts it.
func (e *Engine) AddEvent(event model.Event, now float64) {
	e.mu.RLock()
	windows := make([]*Window, 0, len(e.windows))
	for _, w := range e.windows {
		windows = append(windows, w)
	}
	e.mu.RUnlock()

	for _, w := range windows {
		if w.Accepts(event) {
			w.Add(event, now)
		}
	}
}
