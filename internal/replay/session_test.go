package replay_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/replay"
)

func TestSessionProgressEmptyMatchIsOne(t *testing.T) {
	s := replay.New(100)
	sess := replay.NewSession(s, "sub1", 100, 200, nil, 1.0, 0)
	st := sess.GetStatus()
	if st.Progress != 1.0 {
		t.Fatalf("expected progress 1.0 for empty match, got %f", st.Progress)
	}
}

func TestSessionAdvancesAndCompletes(t *testing.T) {
	s := replay.New(100)
	s.Add(mkEvent("a", 1))
	s.Add(mkEvent("b", 2))
	sess := replay.NewSession(s, "sub1", 0, 10, nil, 1.0, 0)

	e, ok := sess.Next()
	if !ok || e.Name != "a" {
		t.Fatalf("expected first event 'a', got %+v ok=%v", e, ok)
	}
	if sess.GetStatus().Completed {
		t.Fatal("should not be completed after first of two events")
	}

	e, ok = sess.Next()
	if !ok || e.Name != "b" {
		t.Fatalf("expected second event 'b', got %+v ok=%v", e, ok)
	}
	if !sess.GetStatus().Completed {
		t.Fatal("expected completed after last event consumed")
	}
}

func TestSessionPauseBlocksNext(t *testing.T) {
	s := replay.New(100)
	s.Add(mkEvent("a", 1))
	sess := replay.NewSession(s, "sub1", 0, 10, nil, 1.0, 0)
	sess.Pause()
	if _, ok := sess.Next(); ok {
		t.Fatal("expected Next to return false while paused")
	}
	sess.Resume()
	if _, ok := sess.Next(); !ok {
		t.Fatal("expected Next to succeed after resume")
	}
}

func TestManagerReapStale(t *testing.T) {
	store := replay.New(100)
	m := replay.NewManager()
	sess := m.Start(store, "sub1", 0, 10, nil, 1.0, 0)
	sess.Stop()

	n := m.ReapStale(1, 3600)
	if n != 1 {
		t.Fatalf("expected 1 reaped (completed), got %d", n)
	}
	if m.Get(sess.ID) != nil {
		t.Fatal("expected session removed from manager")
	}
}

func TestManagerReapStaleByAge(t *testing.T) {
	store := replay.New(100)
	m := replay.NewManager()
	sess := m.Start(store, "sub1", 0, 10, nil, 1.0, 0)

	n := m.ReapStale(3601, 3600)
	if n != 1 {
		t.Fatalf("expected 1 reaped (stale by age), got %d", n)
	}
	_ = sess
}
