package backpressure_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/backpressure"
	"github.com/qipq/goatbus/internal/model"
)

func TestPressureIsMaxRatioClamped(t *testing.T) {
	c := backpressure.New(1)
	c.UpdateMetrics(backpressure.Metrics{
		QueueUtilization: 1.6, HasQueue: true, // ratio 2.0 at threshold 0.8
		ProcessingRate: 0.45, HasProcessing: true, // ratio 0.5 at threshold 0.9
	}, 0)
	if c.Pressure() != 2.0 {
		t.Fatalf("expected pressure clamped to 2.0, got %f", c.Pressure())
	}
}

func TestAdaptiveThrottleFormula(t *testing.T) {
	c := backpressure.New(1)

	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.3, HasQueue: true}, 0)
	if c.Throttle() != 1.0 {
		t.Fatalf("expected throttle=1.0 at low pressure, got %f", c.Throttle())
	}

	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.75, HasQueue: true}, 0)
	if got := c.Throttle(); got < 0.74 || got > 0.76 {
		t.Fatalf("expected throttle ~0.75 at pressure 0.75, got %f", got)
	}
}

func TestActionThresholds(t *testing.T) {
	c := backpressure.New(1)
	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.95, HasQueue: true}, 0)
	if !c.NeedsEmergencyFlush() {
		t.Fatal("expected EMERGENCY_FLUSH active above pressure 0.9")
	}
}

func TestShouldDeferNonCriticalSet(t *testing.T) {
	c := backpressure.New(1)
	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.7, HasQueue: true}, 0)
	if !c.ShouldDefer("metrics_collected") {
		t.Fatal("expected metrics_collected to be deferrable under DEFER_NON_CRITICAL")
	}
	if c.ShouldDefer("critical_game_event") {
		t.Fatal("expected non-listed event to never be deferred")
	}
}

func TestShouldDropRequiresLowPriorityAndAction(t *testing.T) {
	c := backpressure.New(7)
	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.95, HasQueue: true}, 0)
	if c.ShouldDrop(model.Critical) {
		t.Fatal("expected should_drop to require priority <= LOW")
	}
}

func TestThrottleChangeCallback(t *testing.T) {
	c := backpressure.New(1)
	var got *backpressure.Notification
	c.OnThrottleChange(func(n backpressure.Notification) { got = &n })

	c.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.95, HasQueue: true}, 42)
	if got == nil {
		t.Fatal("expected callback fired on large throttle delta")
	}
	if got.Timestamp != 42 {
		t.Fatalf("expected notification timestamp propagated, got %f", got.Timestamp)
	}
}

func TestDeterministicSeeding(t *testing.T) {
	c1 := backpressure.New(99)
	c2 := backpressure.New(99)
	c1.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.95, HasQueue: true}, 0)
	c2.UpdateMetrics(backpressure.Metrics{QueueUtilization: 0.8 * 0.95, HasQueue: true}, 0)

	for i := 0; i < 10; i++ {
		if c1.ShouldDrop(model.Low) != c2.ShouldDrop(model.Low) {
			t.Fatal("expected identical seeds to produce identical should_drop sequences")
		}
	}
}
