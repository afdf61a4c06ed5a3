// Package goatbus is an in-process, single-node publish/subscribe
// event bus for real-time host applications (games, simulators): it
// composes schema validation, per-subscriber and global queuing,
// replay, time-windowed aggregation, adaptive backpressure, health-
// aware routing, batching, a dependency gate, and periodic maintenance
// behind one publish/subscribe surface.
//
// Grounded on the teacher's top-level composition in cmd/octoreflex's
// main (construct every subsystem, wire them together, expose one
// coordinating surface) — see
// _examples/IAmSoThirsty-Project-AI/octoreflex/cmd/octoreflex/main.go —
// adapted here into a constructible, embeddable Bus value rather than
// a process entrypoint, since GoatBus is a library a host links in
// rather than a standalone agent.
package goatbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qipq/goatbus/internal/backpressure"
	"github.com/qipq/goatbus/internal/batch"
	"github.com/qipq/goatbus/internal/config"
	"github.com/qipq/goatbus/internal/gate"
	"github.com/qipq/goatbus/internal/health"
	"github.com/qipq/goatbus/internal/maintenance"
	"github.com/qipq/goatbus/internal/metrics"
	"github.com/qipq/goatbus/internal/model"
	"github.com/qipq/goatbus/internal/owner"
	"github.com/qipq/goatbus/internal/queue"
	"github.com/qipq/goatbus/internal/replay"
	"github.com/qipq/goatbus/internal/schema"
	"github.com/qipq/goatbus/internal/signalbus"
	"github.com/qipq/goatbus/internal/subscription"
	"github.com/qipq/goatbus/internal/throughput"
	"github.com/qipq/goatbus/internal/window"
)

// Bus is the composed GoatBus event bus (spec.md §2).
type Bus struct {
	mu sync.Mutex

	cfg   config.BusConfig
	clock model.Clock
	log   *zap.Logger

	subs         *subscription.Registry
	schemas      *schema.Registry
	backlog      *queue.Backlog
	replayStore  *replay.Store
	replaySess   *replay.Manager
	windows      *window.Engine
	bp           *backpressure.Controller
	throughputM  *throughput.Monitor
	healthRouter *health.Router
	batcher      *batch.Processor
	depGate      *gate.Gate
	signals      *signalbus.Bus
	metrics      *metrics.Metrics
	maintLoop    *maintenance.Loop

	deferredRing []model.Event
	dropPolicy   queue.DropPolicy

	frameMonitoringOn    bool
	orchestrationBatching bool
	validationEnabled    bool
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithClock overrides the timestamp source (default: wall-clock
// seconds). Tests should inject a deterministic clock (SPEC_FULL.md
// §9, Timestamp source).
func WithClock(clock model.Clock) Option {
	return func(b *Bus) { b.clock = clock }
}

// WithLogger overrides the structured logger (default: zap.NewNop()).
func WithLogger(log *zap.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithConfig overrides the host-facing BusConfig (default:
// config.Defaults()).
func WithConfig(cfg config.BusConfig) Option {
	return func(b *Bus) { b.cfg = cfg }
}

// WithRequiredCollaborators configures the DependencyGate's required
// and optional collaborator names (spec.md §4.13). With none set, the
// gate is ready immediately.
func WithRequiredCollaborators(required, optional []string) Option {
	return func(b *Bus) {
		b.depGate = gate.New(required, optional)
	}
}

// New constructs a fully wired Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		cfg:   config.Defaults(),
		clock: func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	policy, _ := queue.ParseDropPolicy(b.cfg.Queue.DropPolicy)
	b.dropPolicy = policy

	b.schemas = schema.New()
	b.schemas.EnforceRegistration = b.cfg.Schema.EnforceRegistration
	b.schemas.WarnUnregistered = b.cfg.Schema.WarnUnregistered
	b.schemas.Exempt = model.NewFilterSet(b.cfg.Schema.Exempt)

	b.backlog = queue.NewBacklog(b.cfg.Queue.GlobalBacklogCapacity)
	b.replayStore = replay.New(b.cfg.Replay.GlobalRingCapacity)
	b.replaySess = replay.NewManager()
	b.windows = window.NewEngine()
	b.bp = backpressure.New(b.cfg.Backpressure.RandomSeed)
	b.bp.SetAdaptive(b.cfg.Backpressure.Adaptive)
	b.throughputM = throughput.New(1000)
	b.healthRouter = health.New()
	b.healthRouter.SetThresholds(health.Thresholds{
		Routing:  b.cfg.Health.RoutingThreshold,
		Warning:  b.cfg.Health.WarningThreshold,
		Critical: b.cfg.Health.CriticalThreshold,
	})
	b.batcher = batch.New(b.clock)
	b.batcher.MaxBatchSize = b.cfg.Batch.MaxBatchSize
	b.batcher.BatchTimeout = b.cfg.Batch.BatchTimeout
	b.batcher.HighThroughput = b.cfg.Batch.HighThroughput
	b.batcher.YieldThreshold = b.cfg.Batch.YieldThreshold
	b.signals = signalbus.New()
	b.metrics = metrics.New()
	b.validationEnabled = true
	b.orchestrationBatching = true

	if b.depGate == nil {
		b.depGate = gate.New(nil, nil)
	}

	b.subs = subscription.New(b.replayStore, b.dropPolicy, b.cfg.Queue.BackpressureThreshold)

	b.healthRouter.OnRoutingChange(func(c health.RoutingChange) {
		b.signals.EmitSystemHealthRoutingUpdated(signalbus.SystemHealthRoutingUpdated{
			System: c.System, NewRouted: c.NewRouted, Score: c.Score,
		})
	})

	b.maintLoop = maintenance.New(b.maintenanceSteps(), b.cfg.Maintenance.Tick())

	return b
}

func (b *Bus) now() float64 { return b.clock() }

// StartMaintenance launches the periodic MaintenanceLoop goroutine.
func (b *Bus) StartMaintenance() { b.maintLoop.Start() }

// StopMaintenance halts the periodic MaintenanceLoop goroutine.
func (b *Bus) StopMaintenance() { b.maintLoop.Stop() }

// Publish is the DispatchPipeline entry point (spec.md §4.10).
func (b *Bus) Publish(name string, payload map[string]any, priority model.Priority) bool {
	if !b.depGate.IsReady() {
		b.depGate.Cache(gate.PendingOp{Kind: gate.OpPublish, Args: []any{name, payload, priority}})
		return true
	}

	publishStart := time.Now()
	defer func() { b.metrics.PublishLatency.Observe(time.Since(publishStart).Seconds()) }()

	now := b.now()
	b.updateBackpressureMetrics()

	if b.cfg.Backpressure.Enabled {
		if b.bp.ShouldDrop(priority) {
			b.metrics.EventsDroppedTotal.WithLabelValues("backpressure").Inc()
			return false
		}
		if b.bp.ShouldDefer(name) {
			b.deferEvent(model.Event{Name: name, Payload: payload, Priority: priority, Timestamp: now})
			return true
		}
	}

	if b.frameMonitoringOn {
		b.throughputM.StartFrame(now)
	}

	if b.validationEnabled && b.schemas.Has(name) {
		res := b.schemas.Validate(name, payload)
		if !res.Valid {
			b.metrics.EventsDroppedTotal.WithLabelValues("schema_violation").Inc()
			b.log.Warn("schema violation", zap.String("event", name), zap.Strings("errors", res.Errors))
			return false
		}
	}
	if b.schemas.EnforceRegistration && !b.schemas.Has(name) && !b.schemas.IsExempt(name) {
		b.metrics.EventsDroppedTotal.WithLabelValues("schema_enforcement").Inc()
		return false
	}
	if b.schemas.WarnUnregistered && !b.schemas.Has(name) && !b.schemas.IsExempt(name) {
		b.log.Warn("publishing unregistered event", zap.String("event", name))
	}

	event := model.Event{Name: name, Payload: payload, Priority: priority, Timestamp: now}

	b.replayStore.Add(event)
	b.windows.AddEvent(event, now)
	b.backlog.Append(event)

	targets := b.targetSystems(name)
	adjusted := b.healthRouter.AdjustPriority(priority, targets)
	event.Priority = adjusted

	stamped := model.Payload(payload).Clone()
	if stamped == nil {
		stamped = model.Payload{}
	}
	stamped["_event_name"] = name
	stamped["_timestamp"] = now
	stamped["_priority"] = adjusted.String()
	stamped["_target_systems"] = targets
	stamped["_health_adjusted"] = adjusted != priority
	stamped["_priority_adjustment"] = int(adjusted) - int(priority)
	_, isIntegration := batch.RouteEvent(event)
	stamped["_integration_event"] = isIntegration
	event.Payload = stamped

	delivered := b.route(event)

	b.metrics.EventsPublishedTotal.WithLabelValues(name).Inc()
	b.signals.EmitEventPublished(signalbus.EventPublished{Name: name, Priority: int(adjusted), Timestamp: now})
	return delivered
}

// targetSystems derives the distinct system names subscribed to
// eventName (spec.md §4.10 step 9), so HealthRouter.AdjustPriority can
// take the minimum health score across the systems this publish will
// actually reach. A subscription with no System set (the default) has
// no opinion and contributes nothing; if none do, targets is empty and
// AdjustPriority leaves priority unchanged per spec.md's "min over
// targets; else unchanged".
func (b *Bus) targetSystems(eventName string) []string {
	subs := b.subs.Subscribers(eventName)
	seen := make(map[string]struct{}, len(subs))
	var targets []string
	for _, s := range subs {
		if s.System == "" {
			continue
		}
		if _, ok := seen[s.System]; ok {
			continue
		}
		seen[s.System] = struct{}{}
		targets = append(targets, s.System)
	}
	return targets
}

func (b *Bus) deferEvent(event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	capacity := b.cfg.Replay.DeferredRingCapacity
	if capacity <= 0 {
		capacity = 500
	}
	if len(b.deferredRing) >= capacity {
		b.deferredRing = b.deferredRing[1:]
	}
	b.deferredRing = append(b.deferredRing, event)
}

func (b *Bus) updateBackpressureMetrics() {
	m := backpressure.Metrics{
		QueueUtilization: b.backlog.Utilization(), HasQueue: true,
	}
	if b.frameMonitoringOn {
		m.FrameBudgetUsed = boolToFloat(b.throughputM.IsFrameBudgetExceeded(16.0))
		m.HasFrameBudget = true
	}
	b.bp.UpdateMetrics(m, b.now())
	b.metrics.BackpressurePressure.Set(b.bp.Pressure())
	b.metrics.BackpressureThrottle.Set(b.bp.Throttle())
	b.metrics.BacklogUtilization.Set(b.backlog.Utilization())
	b.metrics.ReplayRingSize.Set(float64(b.replayStore.GlobalLen()))
	b.metrics.ReplaySessionsActive.Set(float64(b.replaySess.Count()))
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// route implements spec.md §4.10 step 11: integration/phase batch
// routing, or immediate dispatch. It returns true iff the event (or,
// for a batch that flushed this call, every event in that batch) saw
// zero failed deliveries.
func (b *Bus) route(event model.Event) bool {
	if category, ok := batch.RouteEvent(event); ok {
		if category == batch.CategoryOrchestration {
			if phase := batch.PhaseKey(event); phase != "" {
				if !b.batcher.EnqueuePhase(phase, event) {
					return true
				}
				result := b.batcher.FlushPhase(phase, b.dispatchImmediate)
				b.signals.EmitBatchProcessingCompleted(signalbus.BatchProcessingCompleted{
					Key: phase, Succeeded: result.Succeeded, Failed: result.Failed, DurationS: result.DurationS,
				})
				return result.Failed == 0
			}
		} else if b.orchestrationBatching {
			if !b.batcher.EnqueueIntegration(category, event) {
				return true
			}
			result := b.batcher.FlushIntegration(category, b.dispatchImmediate)
			b.metrics.BatchesProcessedTotal.WithLabelValues(string(category)).Inc()
			if result.Failed > 0 {
				b.metrics.BatchFailuresTotal.WithLabelValues(string(category)).Add(float64(result.Failed))
			}
			b.signals.EmitIntegrationEventProcessed(signalbus.IntegrationEventProcessed{
				Category: string(category), Succeeded: result.Succeeded, Failed: result.Failed,
			})
			return result.Failed == 0
		}
	}
	return b.dispatchImmediate(event) == nil
}

// dispatchImmediate implements spec.md §4.10 step 12: iterate
// subscribers in registration order, skipping invalid ones and those
// filtered by HealthRouter, calling the handler or enqueuing.
func (b *Bus) dispatchImmediate(event model.Event) error {
	priorityAdjustment := 0
	if v, ok := event.Payload["_priority_adjustment"].(int); ok {
		priorityAdjustment = v
	}

	subs := b.subs.Subscribers(event.Name)
	failures := 0
	for _, s := range subs {
		if !s.Alive() {
			continue
		}
		if s.System != "" && !b.healthRouter.ShouldRoute(s.System, priorityAdjustment) {
			continue
		}
		if !s.BeginProcessing() {
			if s.PersonalQueue != nil {
				ok, dropped, crossedBackpressure := s.PersonalQueue.Enqueue(event)
				if !ok {
					b.signals.EmitSubscriberQueueOverflow(signalbus.SubscriberQueueOverflow{
						SubscriptionID: s.ID, DroppedCount: dropped,
					})
				} else {
					b.metrics.QueueDepth.WithLabelValues(s.ID).Set(float64(s.PersonalQueue.Size()))
				}
				if crossedBackpressure {
					b.metrics.QueueBackpressureHits.Inc()
				}
			}
			continue
		}

		start := time.Now()
		err := s.Handler(event.Payload)
		latencyUs := float64(time.Since(start).Microseconds())
		s.EndProcessing()
		b.throughputM.RecordEvent(event.Name, latencyUs)

		if err != nil {
			failures++
			s.RecordFailure()
			b.metrics.HandlerFailuresTotal.WithLabelValues(s.ID).Inc()
		} else {
			s.RecordSuccess()
		}
	}
	if b.frameMonitoringOn {
		frameMs := b.throughputM.EndFrame(b.now())
		b.metrics.FrameDurationMillis.Observe(frameMs)
		if b.throughputM.IsFrameBudgetExceeded(16.0) {
			b.signals.EmitFrameBudgetExceeded(signalbus.FrameBudgetExceeded{FrameMillis: frameMs, BudgetMillis: 16.0})
			b.metrics.FrameBudgetExceededTotal.Inc()
		}
	}
	if failures > 0 {
		return errEventHadFailures
	}
	return nil
}

var errEventHadFailures = &dispatchFailureError{}

type dispatchFailureError struct{}

func (*dispatchFailureError) Error() string { return "one or more subscriber handlers failed" }

// SubscribeOptions mirrors spec.md §6 subscribe's option bag.
type SubscribeOptions struct {
	EnableQueue   bool
	MaxConcurrent int
	EnableReplay  bool
	QueueSize     int
	// System identifies the subscriber's owning system for HealthRouter
	// purposes (spec.md §4.8). Leave empty to opt out of health routing
	// for this subscription — it is then always delivered to.
	System string
}

// OwnerRef builds a weak owner reference to v for use with Subscribe,
// SubscribeWithBacklog, and UnsubscribeAll. The host must continue to
// hold a strong reference to v elsewhere — GoatBus keeps only the weak
// reference. Pass nil for an ownerless (always-alive) subscription.
func OwnerRef[T any](v *T) owner.WeakRef {
	return owner.New(v)
}

// Subscribe registers handler for name (spec.md §6 subscribe). While the
// dependency gate is not ready the call is cached for replay and returns
// an empty ID; the subscription is registered when the cached op replays.
func (b *Bus) Subscribe(name string, handler subscription.Handler, ownerRef owner.WeakRef, opts SubscribeOptions) string {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	if !b.depGate.IsReady() {
		b.depGate.Cache(gate.PendingOp{Kind: gate.OpSubscribe, Args: []any{name, handler, ownerRef, opts}})
		return ""
	}

	id := b.subs.Subscribe(name, handler, ownerRef, subscription.Options{
		QueueEnabled:  opts.EnableQueue,
		QueueSize:     queueSize,
		DropPolicy:    b.dropPolicy,
		ReplayEnabled: opts.EnableReplay,
		ReplaySize:    queueSize,
		MaxConcurrent: maxConcurrent,
		System:        opts.System,
	}, b.now())
	b.metrics.SubscriptionsActive.Set(float64(b.subs.Count()))
	return id
}

// SubscribeWithBacklog subscribes, then starts a 10x-speed replay
// session over [fromTimestamp, now] (spec.md §6).
func (b *Bus) SubscribeWithBacklog(name string, handler subscription.Handler, ownerRef owner.WeakRef, fromTimestamp float64) string {
	id := b.Subscribe(name, handler, ownerRef, SubscribeOptions{})
	b.replaySess.Start(b.replayStore, id, fromTimestamp, b.now(), nil, 10.0, b.now())
	return id
}

// Unsubscribe removes a subscription by event name and ID.
func (b *Bus) Unsubscribe(name, id string) bool {
	ok := b.subs.Unsubscribe(name, id)
	b.metrics.SubscriptionsActive.Set(float64(b.subs.Count()))
	return ok
}

// UnsubscribeAll removes every subscription owned by ownerRef.
func (b *Bus) UnsubscribeAll(ownerRef owner.WeakRef) int {
	n := b.subs.UnsubscribeAll(ownerRef)
	b.metrics.SubscriptionsActive.Set(float64(b.subs.Count()))
	return n
}

// RegisterSchema registers a single event schema.
func (b *Bus) RegisterSchema(name string, def schema.Definition) error {
	return b.schemas.Register(name, def)
}

// RegisterBulkSchemas registers many schemas at once.
func (b *Bus) RegisterBulkSchemas(defs map[string]schema.Definition) error {
	return b.schemas.RegisterBulk(defs)
}

// CreateTimeWindow creates a named TimeWindow (spec.md §6).
func (b *Bus) CreateTimeWindow(id string, duration, slideInterval float64, filters []string, aggregations []window.Aggregation) bool {
	if len(aggregations) == 0 {
		aggregations = []window.Aggregation{window.AggCount}
	}
	b.windows.Create(id, duration, slideInterval, model.NewFilterSet(filters), aggregations, 0)
	return true
}

// GetWindowAggregation returns the current aggregation for a window.
func (b *Bus) GetWindowAggregation(id string) map[window.Aggregation]window.Result {
	w := b.windows.Get(id)
	if w == nil {
		return nil
	}
	return w.Aggregate(b.now())
}

// GetEventsInTimeWindow returns the events currently retained by a window.
func (b *Bus) GetEventsInTimeWindow(id string) []model.Event {
	w := b.windows.Get(id)
	if w == nil {
		return nil
	}
	return w.Events()
}

// GetEventsFromLastSeconds queries the global replay ring for the last
// `secs` seconds of events matching filters.
func (b *Bus) GetEventsFromLastSeconds(secs float64, filters []string) []model.Event {
	now := b.now()
	return b.replayStore.GetRange(now-secs, now, model.NewFilterSet(filters))
}

// GetEventsBetweenTimestamps queries the global replay ring over [start, end].
func (b *Bus) GetEventsBetweenTimestamps(start, end float64, filters []string) []model.Event {
	return b.replayStore.GetRange(start, end, model.NewFilterSet(filters))
}

// StartEventReplay starts a ReplaySession (spec.md §6).
func (b *Bus) StartEventReplay(subscriptionID string, start, end float64, filters []string, speed float64) string {
	sess := b.replaySess.Start(b.replayStore, subscriptionID, start, end, model.NewFilterSet(filters), speed, b.now())
	return sess.ID
}

// PauseReplay pauses a replay session by ID.
func (b *Bus) PauseReplay(id string) bool {
	s := b.replaySess.Get(id)
	if s == nil {
		return false
	}
	s.Pause()
	return true
}

// ResumeReplay resumes a replay session by ID.
func (b *Bus) ResumeReplay(id string) bool {
	s := b.replaySess.Get(id)
	if s == nil {
		return false
	}
	s.Resume()
	return true
}

// StopReplay stops and removes a replay session by ID.
func (b *Bus) StopReplay(id string) bool {
	s := b.replaySess.Get(id)
	if s == nil {
		return false
	}
	s.Stop()
	return b.replaySess.Remove(id)
}

// GetReplayStatus returns a replay session's progress snapshot.
func (b *Bus) GetReplayStatus(id string) (replay.Status, bool) {
	s := b.replaySess.Get(id)
	if s == nil {
		return replay.Status{}, false
	}
	return s.GetStatus(), true
}

// EnableBackpressureControl toggles backpressure enforcement.
func (b *Bus) EnableBackpressureControl(on bool) { b.cfg.Backpressure.Enabled = on }

// SetBackpressureThreshold updates a named backpressure threshold.
func (b *Bus) SetBackpressureThreshold(metric string, value float64) { b.bp.SetThreshold(metric, value) }

// GetBackpressureStatus returns the current pressure and throttle factor.
func (b *Bus) GetBackpressureStatus() (pressure, throttle float64) {
	return b.bp.Pressure(), b.bp.Throttle()
}

// UpdateSystemHealth feeds a system's current failure probability and
// state into the HealthRouter (spec.md §4.8), the only entry point a
// host has for driving routing decisions and priority degradation. A
// routing-threshold crossing fires the OnRoutingChange callback
// registered in New, which emits system_health_routing_updated.
func (b *Bus) UpdateSystemHealth(system string, failureProbability float64, currentState string) {
	b.healthRouter.Update(system, failureProbability, currentState)
	b.metrics.SystemHealthScore.WithLabelValues(system).Set(1 - failureProbability)
}

// RecommendRouting evaluates the named systems' current health for
// eventName and returns which are recommended, degraded, or blocked
// (spec.md §4.8), so a host can decide whether to publish at all
// before paying the cost of a full Publish call.
func (b *Bus) RecommendRouting(eventName string, systems []string) health.Recommendation {
	return b.healthRouter.Recommend(eventName, systems)
}

// SetQueueDropPolicy updates the process-wide default drop policy for
// newly-created queues.
func (b *Bus) SetQueueDropPolicy(policy string) bool {
	p, ok := queue.ParseDropPolicy(policy)
	if !ok {
		return false
	}
	b.dropPolicy = p
	return true
}

// ProcessQueuedEvents drains per-subscriber persistent queues (spec.md §4.11).
func (b *Bus) ProcessQueuedEvents(maxPerSubscriber int) (processed, failed, subscribersProcessed int) {
	if maxPerSubscriber <= 0 {
		maxPerSubscriber = 5
	}
	seen := make(map[string]struct{})
	for _, name := range b.subs.EventNames() {
		for _, s := range b.subs.Subscribers(name) {
			if s.PersonalQueue == nil || !s.Alive() {
				continue
			}
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			drained := 0
			for i := 0; i < maxPerSubscriber; i++ {
				event, ok := s.PersonalQueue.Dequeue()
				if !ok {
					break
				}
				if !s.BeginProcessing() {
					s.PersonalQueue.Requeue(event)
					break
				}
				b.metrics.QueueDepth.WithLabelValues(s.ID).Set(float64(s.PersonalQueue.Size()))
				err := s.Handler(event.Payload)
				s.EndProcessing()
				if err != nil {
					failed++
					s.RecordFailure()
				} else {
					processed++
					s.RecordSuccess()
				}
				drained++
			}
			if drained > 0 {
				subscribersProcessed++
			}
		}
	}
	return processed, failed, subscribersProcessed
}

// ForceProcessAllBatches flushes every pending phase and integration
// batch immediately (spec.md §6).
func (b *Bus) ForceProcessAllBatches() {
	b.batcher.FlushAllIntegration(b.dispatchImmediate)
	b.batcher.FlushAllPhases(b.dispatchImmediate)
}

// PerformMaintenance runs one MaintenanceLoop pass synchronously.
func (b *Bus) PerformMaintenance() maintenance.Summary {
	return maintenance.RunOnce(b.maintenanceSteps())
}

func (b *Bus) maintenanceSteps() maintenance.Steps {
	return maintenance.Steps{
		CleanupInvalidSubscriptions: func() int { return b.subs.CleanupInvalid() },
		NeedsEmergencyFlush:         func() bool { return b.bp.NeedsEmergencyFlush() },
		ProcessDeferred: func(max int) int {
			n := 0
			for n < max {
				b.mu.Lock()
				if len(b.deferredRing) == 0 {
					b.mu.Unlock()
					break
				}
				event := b.deferredRing[0]
				b.deferredRing = b.deferredRing[1:]
				b.mu.Unlock()
				b.route(event)
				n++
			}
			return n
		},
		DropOrphanedQueues:  func() int { return 0 },
		DrainReplaySessions: func() int { return b.drainReplaySessions(replayDrainPerSessionPerPass) },
		ReapReplaySessions: func() int {
			return b.replaySess.ReapStale(b.now(), b.cfg.Replay.SessionMaxAgeSeconds)
		},
		DrainQueuedEvents: func() int {
			processed, _, _ := b.ProcessQueuedEvents(b.cfg.Maintenance.MaxDeferredPerPass)
			return processed
		},
	}
}

// replayDrainPerSessionPerPass bounds how many matched backlog events a
// single maintenance pass delivers per active replay session, so one
// enormous session can't starve the rest of the pass.
const replayDrainPerSessionPerPass = 50

// drainReplaySessions advances every active (non-paused, non-completed)
// replay session's cursor by up to maxPerSession events, delivering
// each matched event to the session's target subscription the same way
// dispatchImmediate delivers a live publish, and returns the total
// number of events delivered. AdvanceReplay exposes this per-session
// for hosts that want to pump a specific session on demand instead of
// waiting for maintenance.
func (b *Bus) drainReplaySessions(maxPerSession int) int {
	delivered := 0
	for _, sess := range b.replaySess.Sessions() {
		delivered += b.advanceSession(sess, maxPerSession)
	}
	return delivered
}

func (b *Bus) advanceSession(sess *replay.Session, max int) int {
	sub := b.subs.FindByID(sess.SubscriptionID)
	if sub == nil || !sub.Alive() {
		return 0
	}
	delivered := 0
	for i := 0; i < max; i++ {
		event, ok := sess.Next()
		if !ok {
			break
		}
		if !sub.BeginProcessing() {
			break
		}
		err := sub.Handler(event.Payload)
		sub.EndProcessing()
		if err != nil {
			sub.RecordFailure()
		} else {
			sub.RecordSuccess()
		}
		delivered++
	}
	return delivered
}

// AdvanceReplay pumps up to max matched events from replay session id
// to its target subscription and returns how many were delivered. A
// host can call this directly instead of relying on the periodic
// maintenance pass to drain a session (spec.md §4.4).
func (b *Bus) AdvanceReplay(id string, max int) int {
	if max <= 0 {
		max = replayDrainPerSessionPerPass
	}
	sess := b.replaySess.Get(id)
	if sess == nil {
		return 0
	}
	return b.advanceSession(sess, max)
}

// GetPerformanceStats returns a coarse performance snapshot.
func (b *Bus) GetPerformanceStats() map[string]any {
	now := b.now()
	return map[string]any{
		"total_events_processed":    b.throughputM.TotalEventsProcessed(),
		"uptime_seconds":            b.throughputM.UptimeSeconds(now),
		"average_events_per_second": b.throughputM.AverageEventsPerSecond(now),
		"active_subscriptions":      b.subs.Count(),
		"global_replay_ring_size":   b.replayStore.GlobalLen(),
		"backlog_utilization":       b.backlog.Utilization(),
	}
}

// GetEnhancedPerformanceStats extends GetPerformanceStats with
// backpressure and frame-budget detail.
func (b *Bus) GetEnhancedPerformanceStats() map[string]any {
	stats := b.GetPerformanceStats()
	pressure, throttle := b.GetBackpressureStatus()
	stats["backpressure_pressure"] = pressure
	stats["backpressure_throttle"] = throttle
	stats["recent_events_per_frame"] = b.throughputM.RecentEventsPerFrame()
	stats["recent_frame_avg_ms"] = b.throughputM.RecentFrameAvgMs()
	return stats
}

// ConnectExternalSystem binds a named collaborator on the
// DependencyGate, replaying cached operations if this binding makes
// the gate ready.
func (b *Bus) ConnectExternalSystem(name string, instance any) {
	if !b.depGate.IsReady() {
		b.depGate.Cache(gate.PendingOp{Kind: gate.OpConnectExternal, Args: []any{name, instance}})
	}
	ready, ops := b.depGate.Bind(name, instance)
	if ready {
		b.signals.EmitDependenciesResolved(signalbus.DependenciesResolved{ReplayedOps: len(ops)})
		b.replayPendingOps(ops)
	}
}

// SetDependency is an alias for ConnectExternalSystem for collaborators
// that are not "external systems" but ordinary dependency-gate slots
// (spec.md §6 distinguishes the two verbs over the same mechanism).
func (b *Bus) SetDependency(name string, instance any) { b.ConnectExternalSystem(name, instance) }

func (b *Bus) replayPendingOps(ops []gate.PendingOp) {
	for _, op := range ops {
		switch op.Kind {
		case gate.OpPublish:
			name, _ := op.Args[0].(string)
			payload, _ := op.Args[1].(map[string]any)
			priority, _ := op.Args[2].(model.Priority)
			b.Publish(name, payload, priority)
		case gate.OpSubscribe:
			name, _ := op.Args[0].(string)
			handler, _ := op.Args[1].(subscription.Handler)
			ownerRef, _ := op.Args[2].(owner.WeakRef)
			opts, _ := op.Args[3].(SubscribeOptions)
			b.Subscribe(name, handler, ownerRef, opts)
		case gate.OpConnectExternal:
			// Already applied by the Bind call that triggered this replay.
		}
	}
}

// ExportConfiguration round-trips feature flags, thresholds, batch
// sizes, and backpressure config as a serialization-format-agnostic
// map (spec.md §6). This is intentionally distinct from internal/config's
// YAML-bound BusConfig.
func (b *Bus) ExportConfiguration() map[string]any {
	return map[string]any{
		"backpressure_enabled":           b.cfg.Backpressure.Enabled,
		"backpressure_adaptive":          b.cfg.Backpressure.Adaptive,
		"queue_utilization_threshold":    b.cfg.Backpressure.QueueUtilization,
		"processing_rate_threshold":      b.cfg.Backpressure.ProcessingRate,
		"memory_pressure_threshold":      b.cfg.Backpressure.MemoryPressure,
		"frame_budget_threshold":         b.cfg.Backpressure.FrameBudget,
		"max_batch_size":                 b.cfg.Batch.MaxBatchSize,
		"batch_timeout_seconds":          b.cfg.Batch.BatchTimeout,
		"high_throughput_mode":           b.cfg.Batch.HighThroughput,
		"yield_threshold":                b.cfg.Batch.YieldThreshold,
		"queue_drop_policy":              b.dropPolicy.String(),
		"schema_enforce_registration":    b.schemas.EnforceRegistration,
		"schema_warn_unregistered":       b.schemas.WarnUnregistered,
		"validation_enabled":             b.validationEnabled,
		"orchestration_batching_enabled": b.orchestrationBatching,
		"frame_monitoring_enabled":       b.frameMonitoringOn,
	}
}

// ImportConfiguration restores policy (not events) from a previously
// exported configuration map (spec.md §6).
func (b *Bus) ImportConfiguration(cfg map[string]any) {
	if v, ok := cfg["backpressure_enabled"].(bool); ok {
		b.cfg.Backpressure.Enabled = v
	}
	if v, ok := cfg["backpressure_adaptive"].(bool); ok {
		b.cfg.Backpressure.Adaptive = v
		b.bp.SetAdaptive(v)
	}
	if v, ok := cfg["queue_utilization_threshold"].(float64); ok {
		b.cfg.Backpressure.QueueUtilization = v
		b.bp.SetThreshold("queue_utilization", v)
	}
	if v, ok := cfg["processing_rate_threshold"].(float64); ok {
		b.cfg.Backpressure.ProcessingRate = v
		b.bp.SetThreshold("processing_rate", v)
	}
	if v, ok := cfg["memory_pressure_threshold"].(float64); ok {
		b.cfg.Backpressure.MemoryPressure = v
		b.bp.SetThreshold("memory_pressure", v)
	}
	if v, ok := cfg["frame_budget_threshold"].(float64); ok {
		b.cfg.Backpressure.FrameBudget = v
		b.bp.SetThreshold("frame_budget", v)
	}
	if v, ok := cfg["max_batch_size"].(int); ok {
		b.cfg.Batch.MaxBatchSize = v
		b.batcher.MaxBatchSize = v
	}
	if v, ok := cfg["batch_timeout_seconds"].(float64); ok {
		b.cfg.Batch.BatchTimeout = v
		b.batcher.BatchTimeout = v
	}
	if v, ok := cfg["high_throughput_mode"].(bool); ok {
		b.cfg.Batch.HighThroughput = v
		b.batcher.HighThroughput = v
	}
	if v, ok := cfg["yield_threshold"].(int); ok {
		b.cfg.Batch.YieldThreshold = v
		b.batcher.YieldThreshold = v
	}
	if v, ok := cfg["queue_drop_policy"].(string); ok {
		b.SetQueueDropPolicy(v)
	}
	if v, ok := cfg["schema_enforce_registration"].(bool); ok {
		b.schemas.EnforceRegistration = v
	}
	if v, ok := cfg["schema_warn_unregistered"].(bool); ok {
		b.schemas.WarnUnregistered = v
	}
	if v, ok := cfg["validation_enabled"].(bool); ok {
		b.validationEnabled = v
	}
	if v, ok := cfg["orchestration_batching_enabled"].(bool); ok {
		b.orchestrationBatching = v
	}
	if v, ok := cfg["frame_monitoring_enabled"].(bool); ok {
		b.frameMonitoringOn = v
	}
}

// EnableFrameMonitoring toggles per-frame timing in the
// ThroughputMonitor and frame-budget signaling.
func (b *Bus) EnableFrameMonitoring(on bool) { b.frameMonitoringOn = on }

// Signals returns the bus's signal broadcaster for host subscription
// to observable events (spec.md §4.13).
func (b *Bus) Signals() *signalbus.Bus { return b.signals }

// Metrics returns the bus's dedicated Prometheus metrics registry holder.
func (b *Bus) Metrics() *metrics.Metrics { return b.metrics }
