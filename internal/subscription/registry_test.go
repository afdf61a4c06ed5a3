package subscription_test

import (
	"runtime"
	"testing"

	"github.com/qipq/goatbus/internal/owner"
	"github.com/qipq/goatbus/internal/queue"
	"github.com/qipq/goatbus/internal/replay"
	"github.com/qipq/goatbus/internal/subscription"
)

func TestSubscribeOrderPreserved(t *testing.T) {
	r := subscription.New(nil, queue.DropOldest, 0.8)
	id1 := r.Subscribe("move", func(map[string]any) error { return nil }, nil, subscription.Options{}, 0)
	id2 := r.Subscribe("move", func(map[string]any) error { return nil }, nil, subscription.Options{}, 0)

	subs := r.Subscribers("move")
	if len(subs) != 2 || subs[0].ID != id1 || subs[1].ID != id2 {
		t.Fatalf("expected registration order preserved, got %+v", subs)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := subscription.New(nil, queue.DropOldest, 0.8)
	id := r.Subscribe("move", func(map[string]any) error { return nil }, nil, subscription.Options{}, 0)
	if !r.Unsubscribe("move", id) {
		t.Fatal("expected unsubscribe to succeed")
	}
	if r.Unsubscribe("move", id) {
		t.Fatal("expected second unsubscribe of same id to fail")
	}
	if len(r.Subscribers("move")) != 0 {
		t.Fatal("expected empty subscriber list")
	}
}

func TestUnsubscribeAllByOwner(t *testing.T) {
	type hostObj struct{}
	obj := &hostObj{}
	ref := owner.New(obj)

	r := subscription.New(nil, queue.DropOldest, 0.8)
	r.Subscribe("a", func(map[string]any) error { return nil }, ref, subscription.Options{}, 0)
	r.Subscribe("b", func(map[string]any) error { return nil }, ref, subscription.Options{}, 0)
	r.Subscribe("c", func(map[string]any) error { return nil }, nil, subscription.Options{}, 0)

	n := r.UnsubscribeAll(ref)
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if len(r.Subscribers("c")) != 1 {
		t.Fatal("expected unrelated owner's subscription untouched")
	}
}

func TestCleanupInvalidPrunesDeadOwner(t *testing.T) {
	r := subscription.New(nil, queue.DropOldest, 0.8)
	func() {
		obj := new(struct{ x int })
		ref := owner.New(obj)
		r.Subscribe("ev", func(map[string]any) error { return nil }, ref, subscription.Options{}, 0)
		_ = obj
	}()

	for i := 0; i < 50 && r.Count() > 0; i++ {
		runtime.GC()
		if r.CleanupInvalid() > 0 {
			break
		}
	}
	if r.Count() != 0 {
		t.Skip("GC timing is non-deterministic; owner may still be retained by the test runtime")
	}
}

func TestSubscribeWithQueueAndReplayCreatesAtomically(t *testing.T) {
	store := replay.New(100)
	r := subscription.New(store, queue.DropOldest, 0.8)
	id := r.Subscribe("ev", func(map[string]any) error { return nil }, nil, subscription.Options{
		QueueEnabled:  true,
		QueueSize:     10,
		ReplayEnabled: true,
		ReplaySize:    10,
	}, 0)

	sub := r.FindByID(id)
	if sub == nil {
		t.Fatal("expected subscription to be found by id")
	}
	if sub.PersonalQueue == nil {
		t.Fatal("expected personal queue created atomically")
	}
	if sub.ReplayBuffer == nil {
		t.Fatal("expected replay buffer created atomically")
	}
	if store.SubscriberRing(id) == nil {
		t.Fatal("expected store to track the per-subscriber ring")
	}
}

func TestDegradedAfterThreeFailures(t *testing.T) {
	r := subscription.New(nil, queue.DropOldest, 0.8)
	id := r.Subscribe("ev", func(map[string]any) error { return nil }, nil, subscription.Options{}, 0)
	sub := r.FindByID(id)

	for i := 0; i < 3; i++ {
		sub.RecordFailure()
	}
	if !sub.Degraded() {
		t.Fatal("expected degraded after 3 consecutive failures")
	}
	sub.RecordSuccess()
	if sub.Degraded() {
		t.Fatal("expected success to clear degraded state")
	}
}

func TestMaxConcurrentBound(t *testing.T) {
	r := subscription.New(nil, queue.DropOldest, 0.8)
	id := r.Subscribe("ev", func(map[string]any) error { return nil }, nil, subscription.Options{MaxConcurrent: 1}, 0)
	sub := r.FindByID(id)

	if !sub.BeginProcessing() {
		t.Fatal("expected first BeginProcessing to succeed")
	}
	if sub.BeginProcessing() {
		t.Fatal("expected second BeginProcessing to fail at MaxConcurrent=1")
	}
	sub.EndProcessing()
	if !sub.BeginProcessing() {
		t.Fatal("expected BeginProcessing to succeed after EndProcessing frees a slot")
	}
}
