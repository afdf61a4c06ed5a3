// Package model holds the data types shared across every GoatBus
// component: the Event envelope and its Priority.
//
// Grounded on the teacher's escalation.State: a small integer enum with
// a String() method and ordering semantics baked into the type itself
// (see _examples/IAmSoThirsty-Project-AI/octoreflex/internal/escalation/state_machine.go).
package model

import "fmt"

// Priority is the delivery priority of an Event, ordered LOW < NORMAL <
// HIGH < CRITICAL. Numeric ordering is load-bearing: backpressure and
// health routing compare priorities directly.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// Clock is the timestamp source used by every component that stamps or
// compares event times. It defaults to wall-clock seconds but is
// injectable so tests can sequence through the API instead of depending
// on real-time granularity (spec Design Notes, "Timestamp source").
type Clock func() float64

// Payload is the string-keyed map of arbitrary values carried by an
// Event. Values are opaque to the bus except where a SchemaRegistry
// entry names a field and a type tag to check against.
type Payload map[string]any

// Clone returns a shallow copy of the payload. Events are immutable
// once published; stamping metadata onto a payload must not mutate a
// caller's map in place.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p)+4)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Event is a named, timestamped, priority-tagged payload. Once
// constructed by the dispatch pipeline an Event is never mutated —
// metadata stamping produces a new Payload via Clone.
type Event struct {
	Name      string
	Payload   Payload
	Priority  Priority
	Timestamp float64
}

// Matches reports whether the event's name is included in filters, or
// filters is empty (meaning "no restriction").
func (e Event) Matches(filters map[string]struct{}) bool {
	if len(filters) == 0 {
		return true
	}
	_, ok := filters[e.Name]
	return ok
}

// NewFilterSet builds a lookup set from a slice of event names. A nil
// or empty slice yields an empty (non-restricting) set.
func NewFilterSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
