package window_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/model"
	"github.com/qipq/goatbus/internal/window"
)

func TestTumblingWindowTrimsByDuration(t *testing.T) {
	w := window.New("w1", 5.0, 0, nil, []window.Aggregation{window.AggCount}, 0)
	w.Add(model.Event{Name: "a", Timestamp: 0}, 0)
	w.Add(model.Event{Name: "a", Timestamp: 3}, 3)
	w.Add(model.Event{Name: "a", Timestamp: 10}, 10)

	events := w.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the event within (now-duration, now], got %d", len(events))
	}
	if events[0].Timestamp != 10 {
		t.Fatalf("expected surviving event at t=10, got %v", events[0].Timestamp)
	}
}

func TestMaxEventsTrim(t *testing.T) {
	w := window.New("w1", 100.0, 0, nil, []window.Aggregation{window.AggCount}, 2)
	for i := 0; i < 5; i++ {
		w.Add(model.Event{Name: "a", Timestamp: float64(i)}, float64(i))
	}
	if len(w.Events()) != 2 {
		t.Fatalf("expected max_events trim to 2, got %d", len(w.Events()))
	}
}

func TestSlidingWindowCountAndRate(t *testing.T) {
	w := window.New("W", 5.0, 1.0, model.NewFilterSet([]string{"hit"}), []window.Aggregation{window.AggCount, window.AggEventRate}, 0)
	now := 0.0
	for i := 0; i < 10; i++ {
		now = float64(i) * 0.5
		if w.Accepts(model.Event{Name: "hit", Timestamp: now}) {
			w.Add(model.Event{Name: "hit", Timestamp: now}, now)
		}
	}
	res := w.Aggregate(5.1)
	if res[window.AggCount].Count != 10 {
		t.Fatalf("expected count=10, got %d", res[window.AggCount].Count)
	}
	if res[window.AggEventRate].EventRate != 2.0 {
		t.Fatalf("expected event_rate=2.0, got %f", res[window.AggEventRate].EventRate)
	}
}

func TestAggregationKinds(t *testing.T) {
	w := window.New("w", 100.0, 0, nil, []window.Aggregation{
		window.AggAvgProcessingTime, window.AggUniqueEvents, window.AggPriorityDistribution, window.AggErrorRate,
	}, 0)
	w.Add(model.Event{Name: "a", Timestamp: 1, Priority: model.Low, Payload: model.Payload{"processing_time": 10.0}}, 1)
	w.Add(model.Event{Name: "b", Timestamp: 2, Priority: model.High, Payload: model.Payload{"processing_time": 20.0, "error": true}}, 2)

	res := w.Aggregate(3)
	if res[window.AggAvgProcessingTime].AvgProcessingTime != 15.0 {
		t.Fatalf("expected avg_processing_time=15.0, got %f", res[window.AggAvgProcessingTime].AvgProcessingTime)
	}
	if res[window.AggUniqueEvents].UniqueEvents != 2 {
		t.Fatalf("expected unique_events=2, got %d", res[window.AggUniqueEvents].UniqueEvents)
	}
	if res[window.AggPriorityDistribution].PriorityDistribution["LOW"] != 1 {
		t.Fatalf("expected priority_distribution[LOW]=1, got %+v", res[window.AggPriorityDistribution].PriorityDistribution)
	}
	if res[window.AggErrorRate].ErrorRate != 0.5 {
		t.Fatalf("expected error_rate=0.5, got %f", res[window.AggErrorRate].ErrorRate)
	}
}

func TestEngineRoutesByFilter(t *testing.T) {
	e := window.NewEngine()
	e.Create("hits", 10.0, 0, model.NewFilterSet([]string{"hit"}), []window.Aggregation{window.AggCount}, 0)
	e.AddEvent(model.Event{Name: "hit", Timestamp: 1}, 1)
	e.AddEvent(model.Event{Name: "miss", Timestamp: 1}, 1)

	res := e.Get("hits").Aggregate(1)
	if res[window.AggCount].Count != 1 {
		t.Fatalf("expected only matching events routed, got count=%d", res[window.AggCount].Count)
	}
}
