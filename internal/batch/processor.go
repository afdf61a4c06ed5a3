// Package batch implements the BatchProcessor (spec.md §4.9): keyed
// phase/integration batches with size- and time-based flush triggers,
// and immediate vs. cooperative processing.
//
// Grounded on the teacher's kernel.Processor batching of outbound
// writes (flush on size or a timeout, whichever comes first) — see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/kernel/events.go.
// Cooperative chunked processing with an explicit yield point is
// adapted from the same file's worker-pool chunk loop.
package batch

import (
	"runtime"
	"sync"

	"github.com/qipq/goatbus/internal/model"
)

const (
	defaultMaxBatchSize  = 50
	defaultBatchTimeout  = 0.1
	defaultYieldThreshold = 100
)

// Category is one of the closed integration-batch keys, plus
// "orchestration" for phase batching (spec.md §4.9).
type Category string

const (
	CategorySchema         Category = "schema_updates"
	CategoryConfig         Category = "config_adjustments"
	CategoryTemplate       Category = "template_updates"
	CategoryResource       Category = "resource_optimizations"
	CategoryOrchestration  Category = "orchestration"
)

// schemaNames, configNames, templateNames, resourceNames, and
// orchestrationNames are the closed event-to-batch routing sets
// (spec.md §4.9).
var (
	schemaNames = model.NewFilterSet([]string{
		"schedule_schema_analysis", "trigger_schema_analysis", "schema_analysis_completed",
		"system_schema_analysis_complete", "integrate_schema_analysis_results",
		"schema_template_sync_requested", "schema_template_sync_completed",
	})
	configNames = model.NewFilterSet([]string{
		"config_auto_adjusted", "request_config_adjustment", "config_adjustment_completed",
		"immediate_config_adjustments_applied", "config_adjustments_scheduled",
	})
	templateNames = model.NewFilterSet([]string{
		"template_auto_updated", "template_updates_queued_for_review", "template_updates_from_feedback",
		"template_updates_from_scaling", "template_review_required", "template_updated_notify_systems",
	})
	resourceNames = model.NewFilterSet([]string{
		"resource_scaling_completed", "resource_forecast_generated", "resource_profile_recommendations",
		"apply_resource_profile", "coordinate_profile_application",
	})
	orchestrationNames = model.NewFilterSet([]string{
		"system_registered", "system_state_changed", "dependency_resolved",
		"phase_system_completed", "system_health_status_updated",
	})
)

// RouteEvent returns the batch category event belongs to, and false if
// it matches none of the closed sets.
func RouteEvent(event model.Event) (Category, bool) {
	switch {
	case event.Matches(schemaNames):
		return CategorySchema, true
	case event.Matches(configNames):
		return CategoryConfig, true
	case event.Matches(templateNames):
		return CategoryTemplate, true
	case event.Matches(resourceNames):
		return CategoryResource, true
	case event.Matches(orchestrationNames):
		return CategoryOrchestration, true
	default:
		return "", false
	}
}

// PhaseKey extracts the phase batching key from an orchestration event
// (spec.md §4.9: `_orchestrator_meta.active_phase` or `phase_name`).
func PhaseKey(event model.Event) string {
	if meta, ok := event.Payload["_orchestrator_meta"].(map[string]any); ok {
		if phase, ok := meta["active_phase"].(string); ok && phase != "" {
			return phase
		}
	}
	if phase, ok := event.Payload["phase_name"].(string); ok {
		return phase
	}
	return ""
}

// Result is the outcome of processing one batch (spec.md §4.9).
type Result struct {
	Succeeded int
	Failed    int
	DurationS float64
}

// ProcessFunc handles a single batched event, returning an error on
// failure.
type ProcessFunc func(model.Event) error

// batchEntry is one keyed batch's accumulated state.
type batchEntry struct {
	items         []model.Event
	lastBatchTime float64
}

// Processor is the BatchProcessor.
type Processor struct {
	mu sync.Mutex

	phaseBatches       map[string]*batchEntry
	integrationBatches map[Category]*batchEntry

	MaxBatchSize   int
	BatchTimeout   float64
	HighThroughput bool
	YieldThreshold int

	nowFn func() float64
}

// New creates a Processor with spec.md default sizing.
func New(nowFn func() float64) *Processor {
	return &Processor{
		phaseBatches:       make(map[string]*batchEntry),
		integrationBatches: make(map[Category]*batchEntry),
		MaxBatchSize:       defaultMaxBatchSize,
		BatchTimeout:       defaultBatchTimeout,
		YieldThreshold:     defaultYieldThreshold,
		nowFn:              nowFn,
	}
}

func (p *Processor) now() float64 {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return 0
}

// EnqueueIntegration adds event to the named integration batch,
// returning true if the batch should now be flushed (size or timeout
// trigger crossed).
func (p *Processor) EnqueueIntegration(category Category, event model.Event) (ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.integrationBatches[category]
	if !ok {
		entry = &batchEntry{lastBatchTime: p.now()}
		p.integrationBatches[category] = entry
	}
	entry.items = append(entry.items, event)
	return p.triggeredLocked(entry)
}

// EnqueuePhase adds event to the named phase batch, returning true if
// it should now be flushed.
func (p *Processor) EnqueuePhase(phase string, event model.Event) (ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.phaseBatches[phase]
	if !ok {
		entry = &batchEntry{lastBatchTime: p.now()}
		p.phaseBatches[phase] = entry
	}
	entry.items = append(entry.items, event)
	return p.triggeredLocked(entry)
}

func (p *Processor) triggeredLocked(entry *batchEntry) bool {
	if len(entry.items) >= p.MaxBatchSize {
		return true
	}
	return p.now()-entry.lastBatchTime >= p.BatchTimeout
}

// FlushIntegration drains and processes the named integration batch.
func (p *Processor) FlushIntegration(category Category, fn ProcessFunc) Result {
	items := p.drainIntegrationLocked(category)
	return p.process(items, fn)
}

// FlushPhase drains and processes the named phase batch.
func (p *Processor) FlushPhase(phase string, fn ProcessFunc) Result {
	items := p.drainPhaseLocked(phase)
	return p.process(items, fn)
}

func (p *Processor) drainIntegrationLocked(category Category) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.integrationBatches[category]
	if !ok {
		return nil
	}
	items := entry.items
	entry.items = nil
	entry.lastBatchTime = p.now()
	return items
}

func (p *Processor) drainPhaseLocked(phase string) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.phaseBatches[phase]
	if !ok {
		return nil
	}
	items := entry.items
	entry.items = nil
	entry.lastBatchTime = p.now()
	return items
}

// FlushAllIntegration drains and processes every non-empty integration
// batch (spec.md §6, force_process_all_batches).
func (p *Processor) FlushAllIntegration(fn ProcessFunc) map[Category]Result {
	p.mu.Lock()
	categories := make([]Category, 0, len(p.integrationBatches))
	for c, e := range p.integrationBatches {
		if len(e.items) > 0 {
			categories = append(categories, c)
		}
	}
	p.mu.Unlock()

	out := make(map[Category]Result, len(categories))
	for _, c := range categories {
		out[c] = p.FlushIntegration(c, fn)
	}
	return out
}

// FlushAllPhases drains and processes every non-empty phase batch.
func (p *Processor) FlushAllPhases(fn ProcessFunc) map[string]Result {
	p.mu.Lock()
	phases := make([]string, 0, len(p.phaseBatches))
	for ph, e := range p.phaseBatches {
		if len(e.items) > 0 {
			phases = append(phases, ph)
		}
	}
	p.mu.Unlock()

	out := make(map[string]Result, len(phases))
	for _, ph := range phases {
		out[ph] = p.FlushPhase(ph, fn)
	}
	return out
}

// process runs fn over items either immediately or cooperatively in
// chunks of YieldThreshold, depending on HighThroughput mode and batch
// size (spec.md §4.9).
func (p *Processor) process(items []model.Event, fn ProcessFunc) Result {
	start := p.now()
	cooperative := p.HighThroughput && len(items) > p.YieldThreshold

	var result Result
	if !cooperative {
		for _, e := range items {
			if err := fn(e); err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}
	} else {
		chunk := p.YieldThreshold
		if chunk <= 0 {
			chunk = defaultYieldThreshold
		}
		for i := 0; i < len(items); i += chunk {
			end := i + chunk
			if end > len(items) {
				end = len(items)
			}
			for _, e := range items[i:end] {
				if err := fn(e); err != nil {
					result.Failed++
				} else {
					result.Succeeded++
				}
			}
			if end < len(items) {
				runtime.Gosched()
			}
		}
	}
	result.DurationS = p.now() - start
	return result
}
