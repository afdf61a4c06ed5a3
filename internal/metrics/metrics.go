// Package metrics implements GoatBus's Prometheus instrumentation.
//
// Endpoint: GET /metrics, bound to loopback by default (configurable).
// Metric naming convention: goatbus_<subsystem>_<name>.
//
// All metrics are registered on a dedicated prometheus.Registry, not
// the default global one, so embedding GoatBus in a host process never
// collides with that host's own instrumentation.
//
// Grounded directly on the teacher's observability.Metrics, which
// applies the same dedicated-registry-plus-namespace convention (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/observability/metrics.go).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor GoatBus exposes.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Dispatch ──────────────────────────────────────────────────────

	EventsPublishedTotal *prometheus.CounterVec // labels: event_name
	EventsDroppedTotal   *prometheus.CounterVec // labels: reason
	PublishLatency       prometheus.Histogram

	// ─── Queues ────────────────────────────────────────────────────────

	QueueDepth            *prometheus.GaugeVec // labels: subscription_id
	QueueBackpressureHits prometheus.Counter
	BacklogUtilization    prometheus.Gauge

	// ─── Replay ────────────────────────────────────────────────────────

	ReplayRingSize      prometheus.Gauge
	ReplaySessionsActive prometheus.Gauge

	// ─── Backpressure ──────────────────────────────────────────────────

	BackpressurePressure prometheus.Gauge
	BackpressureThrottle prometheus.Gauge

	// ─── Throughput ────────────────────────────────────────────────────

	FrameDurationMillis prometheus.Histogram
	FrameBudgetExceededTotal prometheus.Counter

	// ─── Health routing ────────────────────────────────────────────────

	SystemHealthScore *prometheus.GaugeVec // labels: system

	// ─── Batch ─────────────────────────────────────────────────────────

	BatchesProcessedTotal *prometheus.CounterVec // labels: category
	BatchFailuresTotal    *prometheus.CounterVec // labels: category

	// ─── Subscriptions ─────────────────────────────────────────────────

	SubscriptionsActive prometheus.Gauge
	HandlerFailuresTotal *prometheus.CounterVec // labels: subscription_id

	startTime time.Time
}

// New creates and registers every GoatBus Prometheus metric on a fresh,
// dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "dispatch",
			Name:      "events_published_total",
			Help:      "Total events successfully published, by event name.",
		}, []string{"event_name"}),

		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "dispatch",
			Name:      "events_dropped_total",
			Help:      "Total events dropped, by reason (backpressure, schema_violation, schema_enforcement).",
		}, []string{"reason"}),

		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "goatbus",
			Subsystem: "dispatch",
			Name:      "publish_latency_seconds",
			Help:      "Time spent in the publish dispatch pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current per-subscriber persistent queue depth.",
		}, []string{"subscription_id"}),

		QueueBackpressureHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "queue",
			Name:      "backpressure_hits_total",
			Help:      "Total enqueues that left a queue at or above its backpressure threshold.",
		}),

		BacklogUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "queue",
			Name:      "backlog_utilization_ratio",
			Help:      "Global backlog size divided by its capacity.",
		}),

		ReplayRingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "replay",
			Name:      "global_ring_size",
			Help:      "Current number of events retained in the global replay ring.",
		}),

		ReplaySessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "replay",
			Name:      "sessions_active",
			Help:      "Current number of live replay sessions.",
		}),

		BackpressurePressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "backpressure",
			Name:      "pressure",
			Help:      "Most recently computed backpressure pressure value (0-2).",
		}),

		BackpressureThrottle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "backpressure",
			Name:      "throttle_factor",
			Help:      "Current adaptive throttle factor (0.1-1.0).",
		}),

		FrameDurationMillis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "goatbus",
			Subsystem: "throughput",
			Name:      "frame_duration_milliseconds",
			Help:      "Wall time of each completed frame, in milliseconds.",
			Buckets:   []float64{1, 2, 4, 8, 16, 33, 50, 100},
		}),

		FrameBudgetExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "throughput",
			Name:      "frame_budget_exceeded_total",
			Help:      "Total frames whose wall time exceeded the configured budget.",
		}),

		SystemHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "health",
			Name:      "system_score",
			Help:      "Current health score (1 - failure_probability) per system.",
		}, []string{"system"}),

		BatchesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "batch",
			Name:      "processed_total",
			Help:      "Total batch flushes, by category.",
		}, []string{"category"}),

		BatchFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "batch",
			Name:      "failures_total",
			Help:      "Total per-item batch processing failures, by category.",
		}, []string{"category"}),

		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatbus",
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Current number of live subscriptions.",
		}),

		HandlerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatbus",
			Subsystem: "subscription",
			Name:      "handler_failures_total",
			Help:      "Total handler invocation failures, by subscription id.",
		}, []string{"subscription_id"}),
	}

	reg.MustRegister(
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.PublishLatency,
		m.QueueDepth,
		m.QueueBackpressureHits,
		m.BacklogUtilization,
		m.ReplayRingSize,
		m.ReplaySessionsActive,
		m.BackpressurePressure,
		m.BackpressureThrottle,
		m.FrameDurationMillis,
		m.FrameBudgetExceededTotal,
		m.SystemHealthScore,
		m.BatchesProcessedTotal,
		m.BatchFailuresTotal,
		m.SubscriptionsActive,
		m.HandlerFailuresTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr,
// blocking until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}
