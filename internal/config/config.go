// Package config provides host-facing configuration loading and
// validation for GoatBus.
//
// Configuration file: goatbus.yaml, read by Load. A BusConfig seeds a
// bus at construction; cmd/goatbusd reloads the file on SIGHUP and
// applies the new thresholds through Bus.ImportConfiguration, and an
// embedding host can call ImportConfiguration itself.
//
// Grounded on the teacher's config.Config (see
// _examples/IAmSoThirsty-Project-AI/octoreflex/internal/config/config.go):
// same shape (Defaults() + Load() + Validate()), same gopkg.in/yaml.v3
// tags, but validation collects every violation with go.uber.org/multierr
// instead of the teacher's hand-rolled string-slice join, per
// SPEC_FULL.md's ambient-stack error aggregation policy.
//
// This is deliberately distinct from the core bus's
// ExportConfiguration/ImportConfiguration round-trip (spec.md §6),
// which is a serialization-format-agnostic map and must not depend on
// YAML or this package.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// BusConfig is the root host-facing configuration structure.
type BusConfig struct {
	Queue        QueueConfig        `yaml:"queue"`
	Replay       ReplayConfig       `yaml:"replay"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Batch        BatchConfig        `yaml:"batch"`
	Health       HealthConfig       `yaml:"health"`
	Schema       SchemaConfig       `yaml:"schema"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// QueueConfig mirrors internal/queue's tunables (spec.md §4.3).
type QueueConfig struct {
	GlobalBacklogCapacity  int     `yaml:"global_backlog_capacity"`
	PerSubscriberCapacity  int     `yaml:"per_subscriber_capacity"`
	DropPolicy             string  `yaml:"drop_policy"`
	BackpressureThreshold  float64 `yaml:"backpressure_threshold"`
}

// ReplayConfig mirrors internal/replay's tunables (spec.md §4.4).
type ReplayConfig struct {
	GlobalRingCapacity   int     `yaml:"global_ring_capacity"`
	SessionMaxAgeSeconds float64 `yaml:"session_max_age_seconds"`
	DeferredRingCapacity int     `yaml:"deferred_ring_capacity"`
}

// BackpressureConfig mirrors internal/backpressure's tunables (spec.md §4.6).
type BackpressureConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Adaptive         bool    `yaml:"adaptive"`
	QueueUtilization float64 `yaml:"queue_utilization_threshold"`
	ProcessingRate   float64 `yaml:"processing_rate_threshold"`
	MemoryPressure   float64 `yaml:"memory_pressure_threshold"`
	FrameBudget      float64 `yaml:"frame_budget_threshold"`
	RandomSeed       uint64  `yaml:"random_seed"`
}

// BatchConfig mirrors internal/batch's tunables (spec.md §4.9).
type BatchConfig struct {
	MaxBatchSize   int     `yaml:"max_batch_size"`
	BatchTimeout   float64 `yaml:"batch_timeout_seconds"`
	HighThroughput bool    `yaml:"high_throughput_mode"`
	YieldThreshold int     `yaml:"yield_threshold"`
}

// HealthConfig mirrors internal/health's tunables (spec.md §4.8).
type HealthConfig struct {
	RoutingThreshold  float64 `yaml:"routing_threshold"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// SchemaConfig mirrors internal/schema's policy flags (spec.md §4.2).
type SchemaConfig struct {
	EnforceRegistration bool     `yaml:"enforce_registration"`
	WarnUnregistered    bool     `yaml:"warn_unregistered"`
	Exempt              []string `yaml:"exempt"`
}

// MaintenanceConfig controls the maintenance loop's pass sizing (spec.md §4.12).
type MaintenanceConfig struct {
	IntervalSeconds       float64 `yaml:"interval_seconds"`
	MaxDeferredPerPass    int     `yaml:"max_deferred_per_pass"`
}

// ObservabilityConfig mirrors the teacher's metrics/logging bind
// parameters (see octoreflex/internal/config/config.go), generalized
// from "agent" to "bus".
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Defaults returns a BusConfig populated with spec.md's documented
// default values.
func Defaults() BusConfig {
	return BusConfig{
		Queue: QueueConfig{
			GlobalBacklogCapacity: 10000,
			PerSubscriberCapacity: 1000,
			DropPolicy:            "drop_oldest",
			BackpressureThreshold: 0.8,
		},
		Replay: ReplayConfig{
			GlobalRingCapacity:   50000,
			SessionMaxAgeSeconds: 3600,
			DeferredRingCapacity: 500,
		},
		Backpressure: BackpressureConfig{
			Enabled:          true,
			Adaptive:         true,
			QueueUtilization: 0.8,
			ProcessingRate:   0.9,
			MemoryPressure:   0.85,
			FrameBudget:      0.8,
			RandomSeed:       1,
		},
		Batch: BatchConfig{
			MaxBatchSize:   50,
			BatchTimeout:   0.1,
			HighThroughput: false,
			YieldThreshold: 100,
		},
		Health: HealthConfig{
			RoutingThreshold:  0.2,
			WarningThreshold:  0.5,
			CriticalThreshold: 0.1,
		},
		Maintenance: MaintenanceConfig{
			IntervalSeconds:    1.0,
			MaxDeferredPerPass: 10,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9095",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a BusConfig from a YAML file at path,
// merging it over Defaults().
func Load(path string) (*BusConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every BusConfig field, aggregating all violations
// with multierr rather than stopping at the first.
func Validate(cfg *BusConfig) error {
	var err error

	if cfg.Queue.GlobalBacklogCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("queue.global_backlog_capacity must be >= 1, got %d", cfg.Queue.GlobalBacklogCapacity))
	}
	if cfg.Queue.PerSubscriberCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("queue.per_subscriber_capacity must be >= 1, got %d", cfg.Queue.PerSubscriberCapacity))
	}
	switch cfg.Queue.DropPolicy {
	case "drop_oldest", "drop_newest", "block":
	default:
		err = multierr.Append(err, fmt.Errorf("queue.drop_policy must be one of drop_oldest|drop_newest|block, got %q", cfg.Queue.DropPolicy))
	}
	if cfg.Queue.BackpressureThreshold <= 0 || cfg.Queue.BackpressureThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("queue.backpressure_threshold must be in (0, 1], got %f", cfg.Queue.BackpressureThreshold))
	}

	if cfg.Replay.GlobalRingCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("replay.global_ring_capacity must be >= 1, got %d", cfg.Replay.GlobalRingCapacity))
	}
	if cfg.Replay.SessionMaxAgeSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("replay.session_max_age_seconds must be > 0, got %f", cfg.Replay.SessionMaxAgeSeconds))
	}

	for name, v := range map[string]float64{
		"backpressure.queue_utilization_threshold": cfg.Backpressure.QueueUtilization,
		"backpressure.processing_rate_threshold":   cfg.Backpressure.ProcessingRate,
		"backpressure.memory_pressure_threshold":   cfg.Backpressure.MemoryPressure,
		"backpressure.frame_budget_threshold":      cfg.Backpressure.FrameBudget,
	} {
		if v <= 0 || v > 2 {
			err = multierr.Append(err, fmt.Errorf("%s must be in (0, 2], got %f", name, v))
		}
	}

	if cfg.Batch.MaxBatchSize < 1 {
		err = multierr.Append(err, fmt.Errorf("batch.max_batch_size must be >= 1, got %d", cfg.Batch.MaxBatchSize))
	}
	if cfg.Batch.BatchTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("batch.batch_timeout_seconds must be > 0, got %f", cfg.Batch.BatchTimeout))
	}
	if cfg.Batch.YieldThreshold < 1 {
		err = multierr.Append(err, fmt.Errorf("batch.yield_threshold must be >= 1, got %d", cfg.Batch.YieldThreshold))
	}

	for name, v := range map[string]float64{
		"health.routing_threshold":  cfg.Health.RoutingThreshold,
		"health.warning_threshold":  cfg.Health.WarningThreshold,
		"health.critical_threshold": cfg.Health.CriticalThreshold,
	} {
		if v < 0 || v > 1 {
			err = multierr.Append(err, fmt.Errorf("%s must be in [0, 1], got %f", name, v))
		}
	}

	if cfg.Maintenance.IntervalSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("maintenance.interval_seconds must be > 0, got %f", cfg.Maintenance.IntervalSeconds))
	}
	if cfg.Maintenance.MaxDeferredPerPass < 0 {
		err = multierr.Append(err, fmt.Errorf("maintenance.max_deferred_per_pass must be >= 0, got %d", cfg.Maintenance.MaxDeferredPerPass))
	}

	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}

	return err
}

// Tick is a convenience accessor that derives a time.Duration ticker
// interval from the configured float seconds.
func (c MaintenanceConfig) Tick() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}
