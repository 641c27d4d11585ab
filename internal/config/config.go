// Package config is the layered YAML configuration surface (SPEC_FULL.md
// §10.3): a typed Config struct with yaml tags, defaults applied via
// Normalize, and optional hot-reload via fsnotify -- mirroring the
// teacher's own Config-plus-Defaults() idiom in engine/config.go.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"tubebank/internal/telemetry/logging"
)

// Config is the full runtime configuration surface.
type Config struct {
	// TubeCount is parsed and normalized, but the bank does not read it: the
	// bank's size is the fixed bank.TubeCount (6).
	TubeCount int `yaml:"tube_count"`

	// Pipeline holds the command pipeline's queue/stack/history bounds.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Periodic holds the controller's three tick cadences.
	Periodic PeriodicConfig `yaml:"periodic"`

	// ObserverSweepInterval is parsed and normalized, but the controller does
	// not read it; weak-observer registries reclaim expired entries when a
	// notification meets them.
	ObserverSweepInterval time.Duration `yaml:"observer_sweep_interval"`

	// MinePlanDir is the directory the file-backed mineplan.Store watches.
	MinePlanDir string `yaml:"mine_plan_dir"`

	// Telemetry selects the metrics/tracing backend.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PipelineConfig bounds the command pipeline (internal/command.Options).
type PipelineConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	StackCapacity int `yaml:"stack_capacity"`
	HistoryLimit  int `yaml:"history_limit"`
}

// PeriodicConfig holds the controller's three timer cadences (spec.md
// §4.7): bank tick, plan recompute, result-publish/control-refresh.
type PeriodicConfig struct {
	BankTick       time.Duration `yaml:"bank_tick"`
	PlanRecompute  time.Duration `yaml:"plan_recompute"`
	ResultPublish  time.Duration `yaml:"result_publish"`
}

// TelemetryConfig selects the metrics/tracing backend.
type TelemetryConfig struct {
	// MetricsBackend is one of "noop", "prometheus", "otel".
	MetricsBackend string `yaml:"metrics_backend"`
	// TracingEnabled is parsed, but no tracer or controller code reads it.
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Defaults returns a Config with the production defaults (SPEC_FULL.md
// §10.3's cadence list), mirroring the teacher's Defaults() function.
func Defaults() Config {
	return Config{
		TubeCount: 6,
		Pipeline: PipelineConfig{
			QueueCapacity: 256,
			StackCapacity: 64,
			HistoryLimit:  512,
		},
		Periodic: PeriodicConfig{
			BankTick:      100 * time.Millisecond,
			PlanRecompute: time.Second,
			ResultPublish: time.Second,
		},
		ObserverSweepInterval: 5 * time.Minute,
		MinePlanDir:           "mine_plans",
		Telemetry: TelemetryConfig{
			MetricsBackend: "noop",
			TracingEnabled: false,
		},
	}
}

// Normalize fills any zero-valued field with its default, the way the
// teacher's Engine.Config relies on Defaults() plus selective overrides
// rather than requiring every field to be supplied.
func (c *Config) Normalize() {
	d := Defaults()
	if c.TubeCount <= 0 {
		c.TubeCount = d.TubeCount
	}
	if c.Pipeline.QueueCapacity <= 0 {
		c.Pipeline.QueueCapacity = d.Pipeline.QueueCapacity
	}
	if c.Pipeline.StackCapacity <= 0 {
		c.Pipeline.StackCapacity = d.Pipeline.StackCapacity
	}
	if c.Pipeline.HistoryLimit <= 0 {
		c.Pipeline.HistoryLimit = d.Pipeline.HistoryLimit
	}
	if c.Periodic.BankTick <= 0 {
		c.Periodic.BankTick = d.Periodic.BankTick
	}
	if c.Periodic.PlanRecompute <= 0 {
		c.Periodic.PlanRecompute = d.Periodic.PlanRecompute
	}
	if c.Periodic.ResultPublish <= 0 {
		c.Periodic.ResultPublish = d.Periodic.ResultPublish
	}
	if c.ObserverSweepInterval <= 0 {
		c.ObserverSweepInterval = d.ObserverSweepInterval
	}
	if c.MinePlanDir == "" {
		c.MinePlanDir = d.MinePlanDir
	}
	if c.Telemetry.MetricsBackend == "" {
		c.Telemetry.MetricsBackend = d.Telemetry.MetricsBackend
	}
}

// Load reads and parses a YAML config file at path, normalizing the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Normalize()
	return c, nil
}

// Watcher hot-reloads a config file on change via fsnotify, calling onReload
// with the newly parsed and normalized Config. Parse failures are logged
// and the previous config is kept in effect, matching the teacher's
// fail-safe reload discipline.
type Watcher struct {
	path     string
	logger   logging.Logger
	onReload func(Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher constructs a Watcher for path. Call Run to start watching.
func NewWatcher(path string, logger logging.Logger, onReload func(Config)) *Watcher {
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Watcher{path: path, logger: logger, onReload: onReload}
}

// Run starts the fsnotify watch and blocks until ctx is cancelled or Close
// is called.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	w.watcher = fw

	for {
		select {
		case <-ctx.Done():
			fw.Close()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.ErrorCtx(ctx, "config reload failed, keeping previous config", "err", err.Error())
				continue
			}
			w.logger.InfoCtx(ctx, "config reloaded", "path", w.path)
			if w.onReload != nil {
				w.onReload(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorCtx(ctx, "config watch error", "err", err.Error())
		}
	}
}

// Close stops an in-progress Run.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
