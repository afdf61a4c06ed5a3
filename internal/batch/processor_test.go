package batch_test

import (
	"errors"
	"testing"

	"github.com/qipq/goatbus/internal/batch"
	"github.com/qipq/goatbus/internal/model"
)

func TestRouteEventClosedSets(t *testing.T) {
	cat, ok := batch.RouteEvent(model.Event{Name: "schema_analysis_completed"})
	if !ok || cat != batch.CategorySchema {
		t.Fatalf("expected CategorySchema, got %v ok=%v", cat, ok)
	}

	_, ok = batch.RouteEvent(model.Event{Name: "totally_unrelated_event"})
	if ok {
		t.Fatal("expected unrelated event to not route")
	}
}

func TestPhaseKeyFromMetaOrField(t *testing.T) {
	e1 := model.Event{Payload: model.Payload{"_orchestrator_meta": map[string]any{"active_phase": "build"}}}
	if batch.PhaseKey(e1) != "build" {
		t.Fatalf("expected phase 'build' from meta, got %q", batch.PhaseKey(e1))
	}

	e2 := model.Event{Payload: model.Payload{"phase_name": "deploy"}}
	if batch.PhaseKey(e2) != "deploy" {
		t.Fatalf("expected phase 'deploy' from phase_name, got %q", batch.PhaseKey(e2))
	}
}

func TestSizeTrigger(t *testing.T) {
	now := 0.0
	p := batch.New(func() float64 { return now })
	p.MaxBatchSize = 3

	var ready bool
	for i := 0; i < 3; i++ {
		ready = p.EnqueueIntegration(batch.CategorySchema, model.Event{Name: "e"})
	}
	if !ready {
		t.Fatal("expected size trigger at max_batch_size")
	}
}

func TestTimeoutTrigger(t *testing.T) {
	now := 0.0
	p := batch.New(func() float64 { return now })
	p.BatchTimeout = 0.1

	p.EnqueueIntegration(batch.CategoryConfig, model.Event{Name: "e"})
	now = 0.2
	ready := p.EnqueueIntegration(batch.CategoryConfig, model.Event{Name: "e2"})
	if !ready {
		t.Fatal("expected timeout trigger once now-lastBatchTime >= batch_timeout")
	}
}

func TestImmediateProcessingCountsSuccessAndFailure(t *testing.T) {
	now := 0.0
	p := batch.New(func() float64 { return now })
	p.EnqueueIntegration(batch.CategoryResource, model.Event{Name: "a"})
	p.EnqueueIntegration(batch.CategoryResource, model.Event{Name: "b"})

	result := p.FlushIntegration(batch.CategoryResource, func(e model.Event) error {
		if e.Name == "b" {
			return errors.New("boom")
		}
		return nil
	})
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 success 1 failure, got %+v", result)
	}
}

func TestCooperativeProcessingChunked(t *testing.T) {
	now := 0.0
	p := batch.New(func() float64 { return now })
	p.HighThroughput = true
	p.YieldThreshold = 2

	for i := 0; i < 5; i++ {
		p.EnqueueIntegration(batch.CategoryTemplate, model.Event{Name: "e"})
	}
	processed := 0
	result := p.FlushIntegration(batch.CategoryTemplate, func(model.Event) error {
		processed++
		return nil
	})
	if processed != 5 || result.Succeeded != 5 {
		t.Fatalf("expected all 5 processed cooperatively, got processed=%d result=%+v", processed, result)
	}
}

func TestFlushAllIntegrationOnlyNonEmpty(t *testing.T) {
	now := 0.0
	p := batch.New(func() float64 { return now })
	p.EnqueueIntegration(batch.CategorySchema, model.Event{Name: "e"})

	results := p.FlushAllIntegration(func(model.Event) error { return nil })
	if len(results) != 1 {
		t.Fatalf("expected only the one non-empty batch flushed, got %d", len(results))
	}
	if _, ok := results[batch.CategorySchema]; !ok {
		t.Fatal("expected schema batch present in results")
	}
}
