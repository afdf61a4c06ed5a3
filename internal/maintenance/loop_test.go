package maintenance_test

import (
	"testing"
	"time"

	"github.com/qipq/goatbus/internal/maintenance"
)

func TestRunOnceOrderAndSkipOnEmergency(t *testing.T) {
	var order []string
	steps := maintenance.Steps{
		CleanupInvalidSubscriptions: func() int { order = append(order, "cleanup"); return 2 },
		NeedsEmergencyFlush:         func() bool { return true },
		ProcessDeferred:             func(max int) int { order = append(order, "deferred"); return 5 },
		DropOrphanedQueues:          func() int { order = append(order, "drop"); return 1 },
		ReapReplaySessions:          func() int { order = append(order, "reap"); return 3 },
		DrainQueuedEvents:           func() int { order = append(order, "drain"); return 4 },
	}
	summary := maintenance.RunOnce(steps)

	if summary.InvalidSubscriptionsRemoved != 2 || summary.OrphanedQueuesDropped != 1 ||
		summary.ReplaySessionsReaped != 3 || summary.QueuedEventsDrained != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.DeferredEventsProcessed != 0 {
		t.Fatal("expected deferred processing skipped under emergency flush")
	}
	want := []string{"cleanup", "drop", "reap", "drain"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRunOnceProcessesDeferredWhenNotEmergency(t *testing.T) {
	called := false
	steps := maintenance.Steps{
		NeedsEmergencyFlush: func() bool { return false },
		ProcessDeferred: func(max int) int {
			called = true
			if max != maintenance.MaxDeferredPerPass {
				t.Fatalf("expected max=%d, got %d", maintenance.MaxDeferredPerPass, max)
			}
			return 7
		},
	}
	summary := maintenance.RunOnce(steps)
	if !called || summary.DeferredEventsProcessed != 7 {
		t.Fatal("expected deferred processing to run and report its count")
	}
}

func TestLoopStartStop(t *testing.T) {
	ticks := 0
	steps := maintenance.Steps{
		CleanupInvalidSubscriptions: func() int { ticks++; return 0 },
	}
	l := maintenance.New(steps, 5*time.Millisecond)
	l.Start()
	time.Sleep(30 * time.Millisecond)
	l.Stop()

	if ticks == 0 {
		t.Fatal("expected at least one tick before stop")
	}
}
