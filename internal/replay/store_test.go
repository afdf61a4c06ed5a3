package replay_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/model"
	"github.com/qipq/goatbus/internal/replay"
)

func mkEvent(name string, ts float64) model.Event {
	return model.Event{Name: name, Timestamp: ts}
}

func TestGlobalRingBound(t *testing.T) {
	s := replay.New(3)
	for i := 0; i < 5; i++ {
		s.Add(mkEvent("e", float64(i)))
	}
	if s.GlobalLen() != 3 {
		t.Fatalf("expected bounded global ring size 3, got %d", s.GlobalLen())
	}
}

func TestGetRangeFiltersByTimeAndName(t *testing.T) {
	s := replay.New(100)
	s.Add(mkEvent("move", 1))
	s.Add(mkEvent("jump", 2))
	s.Add(mkEvent("move", 3))

	got := s.GetRange(0, 10, map[string]struct{}{"move": {}})
	if len(got) != 2 {
		t.Fatalf("expected 2 move events, got %d", len(got))
	}

	got = s.GetRange(2, 10, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 events with ts>=2, got %d", len(got))
	}
}

func TestPerSubscriberRingIndependent(t *testing.T) {
	s := replay.New(100)
	s.EnableSubscriber("sub1", 2)
	s.Add(mkEvent("a", 1))
	s.Add(mkEvent("b", 2))
	s.Add(mkEvent("c", 3))

	ring := s.SubscriberRing("sub1")
	if ring.Len() != 2 {
		t.Fatalf("expected per-subscriber ring bounded to 2, got %d", ring.Len())
	}

	s.DisableSubscriber("sub1")
	if s.SubscriberRing("sub1") != nil {
		t.Fatal("expected ring removed after DisableSubscriber")
	}
}
