// Package gate implements the DependencyGate (spec.md §4.13): a
// registry of named collaborators with required/optional membership,
// and a pending-operation cache that replays in order once every
// required collaborator is bound.
//
// Grounded on the teacher's escalation state machine's deferred-action
// queue, which holds actions until a precondition process reaches a
// ready state and replays them in submission order (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/escalation/state_machine.go).
package gate

import "sync"

// Collaborator is any host-bound dependency the gate tracks. The
// concrete type is opaque to the gate; callers supply `any` and type-
// assert on lookup.
type Collaborator any

// OpKind is the kind of a cached pending operation (spec.md §4.13:
// subscribe, publish, connect_external_system).
type OpKind string

const (
	OpSubscribe       OpKind = "subscribe"
	OpPublish         OpKind = "publish"
	OpConnectExternal OpKind = "connect_external_system"
)

// PendingOp is one cached operation awaiting replay.
type PendingOp struct {
	Kind OpKind
	Args []any
}

// Gate is the DependencyGate.
type Gate struct {
	mu sync.Mutex

	required map[string]struct{}
	optional map[string]struct{}
	bound    map[string]Collaborator

	pending []PendingOp
}

// New creates a Gate with the given required and optional collaborator
// names. An empty required set makes the gate ready immediately.
func New(required, optional []string) *Gate {
	g := &Gate{
		required: make(map[string]struct{}, len(required)),
		optional: make(map[string]struct{}, len(optional)),
		bound:    make(map[string]Collaborator),
	}
	for _, r := range required {
		g.required[r] = struct{}{}
	}
	for _, o := range optional {
		g.optional[o] = struct{}{}
	}
	return g
}

// Bind sets the instance for a named collaborator. If this binding
// makes the gate ready, the returned ops must be replayed by the
// caller in order and cleared from the cache — the gate hands them
// back rather than replaying them itself, since replay (subscribe /
// publish / connect_external_system) requires calling back into the
// bus.
func (g *Gate) Bind(name string, instance Collaborator) (readyNow bool, ops []PendingOp) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bound[name] = instance

	if !g.isReadyLocked() {
		return false, nil
	}
	ops = g.pending
	g.pending = nil
	return true, ops
}

// Get returns the bound collaborator by name, or nil if unbound.
func (g *Gate) Get(name string) Collaborator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bound[name]
}

// IsReady reports whether every required collaborator is bound to a
// non-nil instance.
func (g *Gate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isReadyLocked()
}

func (g *Gate) isReadyLocked() bool {
	for name := range g.required {
		if g.bound[name] == nil {
			return false
		}
	}
	return true
}

// Cache appends op to the pending queue. Callers should only do this
// after checking !IsReady(); Cache does not check readiness itself so
// the bus can cache-and-check atomically under its own lock if needed.
func (g *Gate) Cache(op PendingOp) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, op)
}

// PendingCount returns the number of cached operations awaiting replay.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// MissingRequired returns the names of required collaborators not yet
// bound, used to decide when to raise dependency_connection_failed
// after the host's retry budget is exhausted.
func (g *Gate) MissingRequired() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var missing []string
	for name := range g.required {
		if g.bound[name] == nil {
			missing = append(missing, name)
		}
	}
	return missing
}
