// Beacon server checks ping, HTTP, DNS and TCP monitors on their own
// intervals, records history and alerts on up-to-down transitions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/1broseidon/beacon/internal/api"
	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/monitors"
	"github.com/1broseidon/beacon/internal/notify"
	"github.com/1broseidon/beacon/internal/probe"
	"github.com/1broseidon/beacon/internal/scheduler"
	"github.com/1broseidon/beacon/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.WithComponent(logging.ComponentConfig).
		WithEvent(logging.EventConfigLoaded).
		WithFields(map[string]interface{}{
			"storage":  cfg.Storage.Backend,
			"workers":  cfg.Scheduler.Workers,
			"monitors": len(cfg.Monitors),
		}).
		Info("Configuration loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, &cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("Failed to close storage")
		}
	}()

	notifier, err := notify.FromConfig(cfg.Notifications, logger, met)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure notifications")
	}
	defer notifier.Close()

	prober := probe.New(logger, met, probe.Options{DefaultTimeout: cfg.Scheduler.ProbeTimeout})
	sched := scheduler.New(store, prober, notifier, logger, met, scheduler.OptionsFromConfig(cfg))
	manager := monitors.NewManager(store, sched, logger, cfg.Scheduler.MinInterval)

	// The scheduler runs on its own context so in-flight checks drain on
	// shutdown instead of being cancelled by the signal.
	if err := sched.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	if _, err := manager.Seed(ctx, cfg.Monitors); err != nil {
		logger.WithError(err).Error("Failed to seed some monitors")
	}

	server := api.NewServer(cfg, api.Deps{
		Logger:    logger,
		Metrics:   met,
		Gatherer:  registry,
		Manager:   manager,
		Scheduler: sched,
		Store:     store,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("Beacon started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	logger.Info("Shutting down Beacon")

	if err := server.Stop(5 * time.Second); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
	}
	if err := sched.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop scheduler gracefully")
	}

	logger.Info("Beacon stopped")
}
