package throughput_test

import (
	"testing"

	"github.com/qipq/goatbus/internal/throughput"
)

func TestUptimeAndRate(t *testing.T) {
	m := throughput.New(10)
	m.StartFrame(0)
	m.RecordEvent("a", 100)
	m.RecordEvent("a", 200)
	m.EndFrame(0.016)

	if m.TotalEventsProcessed() != 2 {
		t.Fatalf("expected 2 events, got %d", m.TotalEventsProcessed())
	}
	if m.UptimeSeconds(10) != 10 {
		t.Fatalf("expected uptime 10, got %f", m.UptimeSeconds(10))
	}
	if got := m.AverageEventsPerSecond(10); got != 0.2 {
		t.Fatalf("expected avg events/sec 0.2, got %f", got)
	}
}

func TestEventStatsMinMaxAvg(t *testing.T) {
	m := throughput.New(10)
	m.RecordEvent("move", 100)
	m.RecordEvent("move", 300)
	m.RecordEvent("move", 200)

	stats := m.EventStats("move")
	if stats.MinMicros != 100 || stats.MaxMicros != 300 || stats.AvgMicros != 200 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SampleCount != 3 {
		t.Fatalf("expected sample count 3, got %d", stats.SampleCount)
	}
}

func TestLatencyRingBounded(t *testing.T) {
	m := throughput.New(2)
	m.RecordEvent("e", 1)
	m.RecordEvent("e", 2)
	m.RecordEvent("e", 3)

	stats := m.EventStats("e")
	if stats.SampleCount != 2 {
		t.Fatalf("expected ring bounded to 2 samples, got %d", stats.SampleCount)
	}
}

func TestFrameBudgetExceeded(t *testing.T) {
	m := throughput.New(10)
	m.StartFrame(0)
	m.EndFrame(0.020)
	if !m.IsFrameBudgetExceeded(16.0) {
		t.Fatal("expected 20ms frame to exceed a 16ms budget")
	}
	if m.IsFrameBudgetExceeded(25.0) {
		t.Fatal("expected 20ms frame to not exceed a 25ms budget")
	}
}

func TestRecentFrameWindowsBounded(t *testing.T) {
	m := throughput.New(10)
	for i := 0; i < 15; i++ {
		m.StartFrame(float64(i))
		m.RecordEvent("e", 1)
		m.EndFrame(float64(i) + 0.01)
	}
	if len(m.RecentEventsPerFrame()) != 10 {
		t.Fatalf("expected recent_events_per_frame bounded to 10, got %d", len(m.RecentEventsPerFrame()))
	}
}
