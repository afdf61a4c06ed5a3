package owner_test

import (
	"runtime"
	"testing"

	"github.com/qipq/goatbus/internal/owner"
)

type holder struct{ id int }

func TestWeakRefAliveWhileReferenced(t *testing.T) {
	h := &holder{id: 1}
	ref := owner.New(h)
	if !ref.Alive() {
		t.Fatal("expected alive while strong reference held")
	}
	runtime.KeepAlive(h)
}

func TestWeakRefDiesAfterCollection(t *testing.T) {
	ref := func() owner.WeakRef {
		h := &holder{id: 2}
		return owner.New(h)
	}()

	for i := 0; i < 10 && ref.Alive(); i++ {
		runtime.GC()
	}
	if ref.Alive() {
		t.Fatal("expected weak ref to die once the owner is unreachable")
	}
}

func TestAlwaysAlive(t *testing.T) {
	ref := owner.Always()
	runtime.GC()
	if !ref.Alive() {
		t.Fatal("Always() must never report collected")
	}
}

func TestIsAliveNilSafe(t *testing.T) {
	if owner.IsAlive(nil) {
		t.Fatal("nil WeakRef must not be alive")
	}
	if !owner.IsAlive(owner.Always()) {
		t.Fatal("Always() must be alive")
	}
}
