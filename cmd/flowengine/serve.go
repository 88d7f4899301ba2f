package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/events"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/scheduler"
	"github.com/opsdeck/flowengine/internal/transport"
	"github.com/opsdeck/flowengine/internal/trigger"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, schedules, events and the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "flowengine", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	a, err := buildApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	gateway := trigger.NewGateway(a.store, a.engine, cfg.Webhook, metrics, logger)
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: a.definitionsReady,
		Store:             a.store,
	}

	idemCloser := func() error { return nil }
	if cfg.Idempotency.Enabled {
		idem, closer, err := trigger.NewIdempotencyStore(cfg.Idempotency)
		if err != nil {
			_ = a.Close()
			return err
		}
		idemCloser = closer
		gateway = gateway.WithIdempotency(idem, cfg.Idempotency.DefaultTTL)
		if hc, ok := idem.(observability.HealthChecker); ok {
			readiness.IdempotencyStore = hc
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(cfg.Scheduler, a.store, a.engine, metrics, logger)
		if err := sched.Sync(ctx); err != nil {
			// Invalid expressions are skipped; valid ones still run.
			logger.Warn("some schedules were not registered", zap.Error(err))
		}
		sched.Start()
		readiness.Scheduler = sched
	}

	deps := transport.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Gatherer:   prometheus.DefaultGatherer,
		Webhooks:   gateway,
		Executions: a.engine,
		Readiness:  readiness,
	}
	if a.bus != nil {
		events.NewTriggerConsumer(a.store, a.engine, metrics, logger).Attach(a.bus)
		go func() {
			if err := a.bus.Run(ctx); err != nil {
				logger.Error("event router stopped", zap.Error(err))
			}
		}()
		deps.Events = a.bus
		readiness.EventBus = a.bus
		deps.Readiness = readiness
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      transport.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", len(a.registry.Workflows())),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Drain HTTP first so no new executions start, then stop the other
	// sources, then release storage.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown error", zap.Error(err))
		}
	}
	// Running executions outlive the HTTP requests that started them and
	// must be finalized before the store closes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Engine.ExecutionDeadline+cfg.Engine.FinalizeTimeout)
	defer cancelDrain()
	if err := a.engine.Drain(drainCtx); err != nil {
		logger.Error("executions still running at shutdown", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		logger.Error("store shutdown error", zap.Error(err))
	}
	if err := idemCloser(); err != nil {
		logger.Error("idempotency store shutdown error", zap.Error(err))
	}
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := tracingShutdown(flushCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}
