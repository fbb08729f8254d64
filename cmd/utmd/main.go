// Command utmd runs the operation lifecycle and deconfliction engine: the
// reservation store, the admission protocol, the lifecycle scheduler, the
// conformance monitor, and the NATS ingest surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/internal/admission"
	"github.com/u-space/utm-core/internal/clock"
	"github.com/u-space/utm-core/internal/conformance"
	"github.com/u-space/utm-core/internal/config"
	"github.com/u-space/utm-core/internal/ingest"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/internal/notify"
	"github.com/u-space/utm-core/internal/observability"
	"github.com/u-space/utm-core/internal/registry"
	"github.com/u-space/utm-core/internal/scheduler"
	"github.com/u-space/utm-core/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "utmd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "utmd",
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := openStore(cfg, collector, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier notify.Notifier = notify.Noop{}
	var natsNotifier *notify.NATSNotifier
	if cfg.NATS.URL != "" {
		natsNotifier, err = notify.NewNATSNotifier(cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
	} else {
		log.Warn(ctx, "no nats url configured; notifications disabled")
	}

	clk := clock.System{}
	reg := registry.NewStatic()

	protocol := admission.New(st, notifier, clk, log, admission.WithRecorder(collector))
	sched := scheduler.New(st, notifier, clk, log, scheduler.Config{
		Interval:         cfg.Scheduler.SweepInterval,
		DefaultAccept:    cfg.Scheduler.DefaultAccept,
		AutoClosePending: cfg.Scheduler.AutoClosePending,
	}, scheduler.WithRecorder(collector))
	monitor := conformance.New(st, reg, notifier, clk, log, conformance.WithRecorder(collector))

	// Ingest surfaces only exist when a broker is configured; without one the
	// engine still sweeps and serves metrics, which is the test deployment
	// shape.
	var telemetry *ingest.Telemetry
	var commands *ingest.Commands
	if natsNotifier != nil {
		nc := natsNotifier.Conn()
		telemetry = ingest.NewTelemetry(nc, monitor, cfg.Ingest.ReportsPerSecond, cfg.Ingest.Burst, log)
		if err := telemetry.Start(ctx); err != nil {
			return err
		}
		defer telemetry.Stop()

		commands = ingest.NewCommands(nc, st, protocol, sched, clk, log)
		if err := commands.Start(ctx); err != nil {
			return err
		}
		defer commands.Stop()
	}

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: metricsMux(collector),
	}
	go func() {
		log.Info(ctx, "metrics server listening", logging.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "metrics server failed", logging.Err(err))
		}
	}()

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()
	log.Info(ctx, "engine started",
		logging.String("store", cfg.Store.Backend),
		logging.Any("sweep_interval", cfg.Scheduler.SweepInterval.String()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info(ctx, "shutdown initiated", logging.String("signal", sig.String()))
	case err := <-schedDone:
		if err != nil && err != context.Canceled {
			log.Error(ctx, "scheduler stopped", logging.Err(err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "metrics server shutdown failed", logging.Err(err))
	}
	log.Info(shutdownCtx, "shutdown complete")
	return nil
}

func openStore(cfg *config.Config, collector *observability.EngineCollector, log logging.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "badger":
		st, err := store.OpenBadgerStore(cfg.Store.Path, geo.Planar{}, log,
			store.WithMetricsRecorder(collector))
		if err != nil {
			return nil, fmt.Errorf("open badger store at %s: %w", cfg.Store.Path, err)
		}
		return st, nil
	default:
		return store.NewMemStore(geo.Planar{}, log, store.WithMetricsRecorder(collector)), nil
	}
}

func metricsMux(collector *observability.EngineCollector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
