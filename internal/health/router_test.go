package health_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/health"
	"github.com/qipq/goatbus/internal/model"
)

func TestRoutingFlipsOnThresholdCross(t *testing.T) {
	r := health.New()
	var changes []health.RoutingChange
	r.OnRoutingChange(func(c health.RoutingChange) { changes = append(changes, c) })

	r.Update("renderer", 0.1, "ok") // score 0.9, routed stays true, no change emitted (starts routed)
	if len(changes) != 0 {
		t.Fatalf("expected no change on initial healthy update, got %+v", changes)
	}

	r.Update("renderer", 0.9, "degraded") // score 0.1 < routing 0.2 -> flips to false
	if len(changes) != 1 || changes[0].NewRouted {
		t.Fatalf("expected one flip to not-routed, got %+v", changes)
	}
}

func TestShouldRouteRequiresHigherScoreOnNegativeAdjustment(t *testing.T) {
	r := health.New()
	r.Update("ai", 0.75, "ok") // score 0.25, above routing threshold 0.2

	if !r.ShouldRoute("ai", 0) {
		t.Fatal("expected routed with no adjustment")
	}
	if r.ShouldRoute("ai", -1) {
		t.Fatal("expected negative adjustment to require score > 0.2+0.1=0.3, but score is 0.25")
	}
}

func TestRecommendOverallStates(t *testing.T) {
	r := health.New()
	r.Update("a", 0.95, "critical") // score 0.05 <= critical 0.1 -> blocked
	r.Update("b", 0.95, "critical")

	rec := r.Recommend("ev", []string{"a", "b"})
	if rec.Overall != "block" {
		t.Fatalf("expected overall=block when all blocked, got %s", rec.Overall)
	}

	r2 := health.New()
	r2.Update("c", 0.6, "warn") // score 0.4 <= warning 0.5 -> degraded
	rec2 := r2.Recommend("ev", []string{"c"})
	if rec2.Overall != "proceed_with_caution" {
		t.Fatalf("expected proceed_with_caution, got %s", rec2.Overall)
	}
}

func TestAdjustPriority(t *testing.T) {
	r := health.New()
	r.Update("sys", 0.6, "degraded") // score 0.4 < 0.5 -> LOW
	if got := r.AdjustPriority(model.Critical, []string{"sys"}); got != model.Low {
		t.Fatalf("expected LOW for min health < 0.5, got %v", got)
	}

	r2 := health.New()
	r2.Update("sys2", 0.25, "ok") // score 0.75, < 0.8 -> priority-1
	if got := r2.AdjustPriority(model.High, []string{"sys2"}); got != model.Normal {
		t.Fatalf("expected priority-1 (NORMAL), got %v", got)
	}

	r3 := health.New()
	r3.Update("sys3", 0.05, "ok") // score 0.95 -> unchanged
	if got := r3.AdjustPriority(model.High, []string{"sys3"}); got != model.High {
		t.Fatalf("expected unchanged priority, got %v", got)
	}
}
