// Package main — cmd/goatbusd/main.go
//
// goatbusd is a standalone demo host for the GoatBus library: it wires
// a Bus, starts its metrics server and maintenance loop, and blocks on
// a signal for graceful shutdown. Embedding hosts (a game's main loop,
// a simulator's tick) construct a goatbus.Bus directly instead of
// running this binary — goatbusd exists to exercise the library end to
// end and to give operators a reference deployment.
//
// Startup sequence:
//  1. Parse flags.
//  2. Load and validate config from goatbus.yaml (or flag-given path).
//  3. Initialise structured logger (zap).
//  4. Construct the Bus.
//  5. Start the Prometheus metrics server.
//  6. Start the maintenance loop.
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (stops the metrics server).
//  2. Stop the maintenance loop.
//  3. Flush the logger.
//  4. Exit 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	goatbus "github.com/qipq/goatbus"
	"github.com/qipq/goatbus/internal/config"
)

// version is stamped at build time via -ldflags; left as a plain
// default here since goatbusd has no release pipeline of its own.
var version = "dev"

func main() {
	configPath := flag.String("config", "goatbus.yaml", "Path to goatbus.yaml")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("goatbusd %s\n", version)
		os.Exit(0)
	}

	cfg := config.Defaults()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("goatbusd starting",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := goatbus.New(goatbus.WithConfig(cfg), goatbus.WithLogger(log))

	go func() {
		if err := bus.Metrics().ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	bus.StartMaintenance()
	log.Info("maintenance loop started", zap.Duration("interval", cfg.Maintenance.Tick()))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Float64("new_backpressure_queue_threshold", newCfg.Backpressure.QueueUtilization))
			bus.ImportConfiguration(map[string]any{
				"queue_utilization_threshold": newCfg.Backpressure.QueueUtilization,
				"processing_rate_threshold":   newCfg.Backpressure.ProcessingRate,
				"memory_pressure_threshold":   newCfg.Backpressure.MemoryPressure,
				"frame_budget_threshold":      newCfg.Backpressure.FrameBudget,
			})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	bus.StopMaintenance()

	log.Info("goatbusd shutdown complete")
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
