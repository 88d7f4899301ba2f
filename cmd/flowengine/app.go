package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/definition"
	"github.com/opsdeck/flowengine/internal/engine"
	"github.com/opsdeck/flowengine/internal/events"
	"github.com/opsdeck/flowengine/internal/executor"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/store"
)

// app holds the components shared by serve and invoke.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	store    store.Store
	registry *definition.Registry
	// bus is nil when events are disabled.
	bus    *events.Bus
	engine *engine.Engine
}

// buildApp loads and validates definitions, opens the store, seeds it when
// configured, and assembles the engine with its executors.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*app, error) {
	registry, verrs, err := definition.LoadAndValidate(cfg.Definitions.Directories, cfg.Scheduler.WithSeconds)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error",
				zap.String("path", ve.Path),
				zap.String("code", ve.Code),
				zap.String("error", ve.Message),
			)
		}
		return nil, fmt.Errorf("definition validation failed with %d errors", len(verrs))
	}
	metrics.SetDefinitionsLoaded(len(registry.Workflows()))

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	// The memory store starts empty, so definitions are its only source.
	if cfg.Definitions.Seed || cfg.Store.Driver == "memory" || cfg.Store.Driver == "" {
		if _, err := definition.Seed(ctx, st, registry, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics, store: st, registry: registry}

	var notifier executor.Notifier
	if cfg.Events.Enabled {
		bus, err := events.NewBus(cfg.Events, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.bus = bus
		notifier = events.NewBusNotifier(bus)
	}

	steps := executor.NewSet(
		executor.NewAPICallExecutor(cfg.APICall, metrics, logger),
		executor.NewNotificationExecutor(notifier, metrics, logger),
		executor.NewDatabaseOperationExecutor(st, cfg.Store.AllowedTables),
		executor.NewDelayExecutor(cfg.Engine.MaxDelay),
		logger,
	)
	a.engine = engine.New(st, st, steps, cfg.Engine, metrics, logger)
	return a, nil
}

// definitionsReady reports readiness of the definition source. Without
// configured directories workflows come from the store alone.
func (a *app) definitionsReady() bool {
	return len(a.cfg.Definitions.Directories) == 0 || a.registry.Loaded()
}

// Close releases the bus and the store.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
