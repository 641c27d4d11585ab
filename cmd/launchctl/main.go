// Command launchctl is the weapon-control processor's process entrypoint:
// it wires bank/pipeline/publisher/controller from a config file, serves
// optional metrics/health endpoints, and sequences shutdown on
// SIGINT/SIGTERM. The interactive menu itself is out of scope (spec.md
// §6); only its flags and exit-code contract are implemented here.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubebank/internal/bank"
	"tubebank/internal/command"
	"tubebank/internal/config"
	"tubebank/internal/controller"
	"tubebank/internal/events"
	"tubebank/internal/mineplan"
	"tubebank/internal/plan"
	"tubebank/internal/telemetry/logging"
	"tubebank/internal/telemetry/metrics"
	"tubebank/internal/weapon"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     string
		metricsAddr    string
		healthAddr     string
		testMode       bool
		batchMode      bool
		showHelp       bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (defaults applied if unset)")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.BoolVar(&testMode, "test", false, "Run the built-in test scenario and exit")
	flag.BoolVar(&batchMode, "batch", false, "Run without the interactive menu (process bus events only)")
	flag.BoolVar(&showHelp, "help", false, "Show usage and exit")
	flag.Parse()

	if showHelp {
		flag.Usage()
		return 0
	}

	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Printf("load config: %v", err)
			return -1
		}
		cfg = loaded
	}

	logger := logging.New(slog.Default())
	provider := newMetricsProvider(cfg.Telemetry.MetricsBackend)

	weaponRegistry := weapon.NewRegistry()
	planRegistry := plan.NewRegistry()
	b := bank.New(weaponRegistry, planRegistry)

	pipeline := command.New(command.Options{
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		StackCapacity: cfg.Pipeline.StackCapacity,
		HistoryLimit:  cfg.Pipeline.HistoryLimit,
		Logger:        logger,
		Metrics:       provider,
	})
	publisher := events.New(nil, logger, provider)

	var planStore mineplan.Store
	if cfg.MinePlanDir != "" {
		fs, err := mineplan.NewFileStore(cfg.MinePlanDir, logger)
		if err != nil {
			log.Printf("init mine plan store: %v", err)
			return -1
		}
		planStore = fs
	}

	ctrl := controller.New(b, pipeline, publisher,
		controller.WithLogger(logger),
		controller.WithMetrics(provider),
		controller.WithConfig(cfg),
		controller.WithPlanStore(planStore),
	)

	if testMode {
		return runTestScenario(ctrl, b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "signal received, initiating graceful shutdown")
		cancel()
		<-sigCh
		logger.WarnCtx(ctx, "second signal received, forcing exit")
		os.Exit(1)
	}()

	ctrl.Start()

	var servers []*http.Server
	if metricsAddr != "" {
		if prom, ok := provider.(*metrics.PrometheusProvider); ok {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.MetricsHandler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			servers = append(servers, srv)
			go func() {
				logger.InfoCtx(ctx, "metrics listening", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.ErrorCtx(ctx, "metrics server failed", "err", err.Error())
				}
			}()
		}
	}
	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			err := provider.Health(r.Context())
			status := "ok"
			if err != nil {
				status = err.Error()
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    status,
				"ready":     b.ReadyCount(),
				"assigned":  b.AssignedCount(),
				"generated": time.Now().Format(time.RFC3339),
			})
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		servers = append(servers, srv)
		go func() {
			logger.InfoCtx(ctx, "health endpoint listening", "addr", healthAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorCtx(ctx, "health server failed", "err", err.Error())
			}
		}()
	}

	if batchMode {
		logger.InfoCtx(ctx, "running in batch mode; awaiting shutdown signal")
	}

	<-ctx.Done()
	ctrl.Stop()
	for _, srv := range servers {
		_ = srv.Shutdown(context.Background())
	}
	return 0
}

func newMetricsProvider(backend string) metrics.Provider {
	switch backend {
	case "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "launchctl"})
	default:
		return metrics.NewNoopProvider()
	}
}

// runTestScenario assigns a weapon to tube 1, powers it on, and reports the
// resulting status -- a minimal smoke check standing in for spec.md §6's
// "test scenario" menu item.
func runTestScenario(ctrl *controller.Controller, b *bank.Bank) int {
	ctrl.Start()
	defer ctrl.Stop()

	if _, err := b.Assign(1, weapon.KindALM, plan.Assignment{}); err != nil {
		fmt.Printf("assign failed: %v\n", err)
		return -1
	}
	if _, err := b.RequestState(1, weapon.On); err != nil {
		fmt.Printf("turn-on failed: %v\n", err)
		return -1
	}
	time.Sleep(50 * time.Millisecond)

	st, err := b.Status(1)
	if err != nil {
		fmt.Printf("status failed: %v\n", err)
		return -1
	}
	fmt.Printf("tube 1: state=%s weapon=%s kind=%s\n", st.State, st.Weapon, st.Kind)
	return 0
}
