package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/faultsim/internal/api"
	"github.com/miradorstack/faultsim/internal/detect"
	"github.com/miradorstack/faultsim/internal/faults"
	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/runs"
	"github.com/miradorstack/faultsim/internal/services"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/telemetry"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC simulator service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(parent context.Context, root *rootOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger.Info("starting faultsim",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Backend))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.Storage, afero.NewOsFs())
	if err != nil {
		return err
	}
	defer backend.Close()

	hubCfg, err := hubConfigFrom(cfg.Simulation)
	if err != nil {
		return err
	}
	bounds, err := boundsFrom(cfg.Detection)
	if err != nil {
		return err
	}

	registry := faults.NewRegistry(backend, faults.WithLogger(logger))
	scheduler := faults.NewScheduler(backend, registry, faults.WithLogger(logger))
	catalog := runs.NewCatalog(backend, logger, nil)

	hub := sim.NewHub(logger, hubCfg, scheduler, nil)
	defer hub.Close()
	for _, robotID := range cfg.Simulation.Robots {
		if _, err := hub.Series(robotID, models.MetricCurrent); err != nil {
			return err
		}
	}
	if run, err := catalog.EnsureDemoRun(ctx); err != nil {
		logger.Warn("demo run not persisted", slog.Any("error", err))
	} else {
		logger.Info("active run", slog.String("runId", run.ID))
	}

	var remote telemetry.Remote
	if cfg.Remote.BaseURL != "" {
		remote = telemetry.NewRemoteClient(
			cfg.Remote.BaseURL,
			cfg.Remote.SeriesPath,
			cfg.Remote.FramePath,
			cfg.Remote.Timeout,
			backend,
			cfg.Remote.CacheTTL,
			logger,
		)
	}
	query := telemetry.NewQueryService(logger, catalog, hub, remote, scheduler)

	service := services.NewSimService(logger, services.Dependencies{
		Templates:  registry,
		Injections: scheduler,
		Telemetry:  query,
		Runs:       catalog,
		Alarms:     detect.NewEngine(cfg.Detection.ZThreshold, bounds),
		Generators: hub,
		Tuner:      hub,
	})

	server, err := api.NewServer(cfg.Server, service)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		return server.Start()
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := withTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("faultsim stopped")
	return err
}
