// Package owner implements the weak-owner-reference discipline the spec
// requires for Subscription validity (spec.md Design Notes, "Weak owner
// references"): a subscription is valid only while both its handler is
// invokable and its owner is still reachable by the host application —
// the bus itself must never be the reason an owner stays alive.
//
// Go 1.24 shipped a genuine weak pointer (the stdlib "weak" package),
// so GoatBus uses it directly instead of the epoch/generation fallback
// the Design Notes suggest for runtimes without weak references. WeakRef
// type-erases weak.Pointer[T] behind an Alive() check so the
// SubscriptionRegistry can hold owners of any host type uniformly —
// mirroring how the teacher type-erases its gossip.PartitionSink
// interface rather than hard-coding a concrete channel type (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/gossip/quorum.go).
package owner

import "weak"

// WeakRef is a type-erased weak reference to a subscription owner.
// A nil WeakRef is never alive (see IsAlive); when the host passes no
// owner at all, subscribe() substitutes Always() instead.
type WeakRef interface {
	// Alive reports whether the referenced owner has not yet been
	// garbage collected. The bus never prevents collection: calling
	// Alive does not extend the owner's lifetime.
	Alive() bool
}

type weakRef[T any] struct {
	ptr weak.Pointer[T]
}

// New creates a WeakRef to v. v must be a pointer the host continues to
// hold a strong reference to elsewhere; GoatBus keeps only the weak
// reference returned here.
func New[T any](v *T) WeakRef {
	if v == nil {
		return nil
	}
	return weakRef[T]{ptr: weak.Make(v)}
}

func (w weakRef[T]) Alive() bool {
	return w.ptr.Value() != nil
}

// alwaysAlive is a WeakRef that never reports collection. It is used
// internally when a subscription is created with no owner (ownerless
// subscriptions are valid for the process lifetime of the bus, matching
// the teacher's treatment of unowned background workers).
type alwaysAlive struct{}

func (alwaysAlive) Alive() bool { return true }

// Always returns the sentinel always-alive WeakRef.
func Always() WeakRef { return alwaysAlive{} }

// IsAlive reports whether ref is alive, treating a nil WeakRef as not
// alive (distinct from Always, which is an explicit "no owner to
// track" sentinel rather than the zero value).
func IsAlive(ref WeakRef) bool {
	return ref != nil && ref.Alive()
}
