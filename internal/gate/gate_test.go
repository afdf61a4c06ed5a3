package gate_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/gate"
)

func TestReadyWithNoRequired(t *testing.T) {
	g := gate.New(nil, nil)
	if !g.IsReady() {
		t.Fatal("expected gate with no required collaborators to be ready immediately")
	}
}

func TestNotReadyUntilAllRequiredBound(t *testing.T) {
	g := gate.New([]string{"db", "cache"}, nil)
	if g.IsReady() {
		t.Fatal("expected not ready with no collaborators bound")
	}
	g.Bind("db", "db-instance")
	if g.IsReady() {
		t.Fatal("expected still not ready with cache unbound")
	}
	ready, _ := g.Bind("cache", "cache-instance")
	if !ready {
		t.Fatal("expected ready once all required bound")
	}
}

func TestCachedOpsReplayedInOrder(t *testing.T) {
	g := gate.New([]string{"db"}, nil)
	g.Cache(gate.PendingOp{Kind: gate.OpPublish, Args: []any{"a"}})
	g.Cache(gate.PendingOp{Kind: gate.OpSubscribe, Args: []any{"b"}})

	if g.PendingCount() != 2 {
		t.Fatalf("expected 2 pending ops, got %d", g.PendingCount())
	}

	_, ops := g.Bind("db", "instance")
	if len(ops) != 2 || ops[0].Kind != gate.OpPublish || ops[1].Kind != gate.OpSubscribe {
		t.Fatalf("expected ops replayed in insertion order, got %+v", ops)
	}
	if g.PendingCount() != 0 {
		t.Fatal("expected pending queue cleared after replay")
	}
}

func TestMissingRequired(t *testing.T) {
	g := gate.New([]string{"db", "cache"}, nil)
	g.Bind("db", "x")
	missing := g.MissingRequired()
	if len(missing) != 1 || missing[0] != "cache" {
		t.Fatalf("expected only 'cache' missing, got %v", missing)
	}
}
