package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	boostengine "acorn/contexts/savings-incentives/boost-engine"
	"acorn/contexts/savings-incentives/boost-engine/adapters/memory"
	messagingadapter "acorn/contexts/savings-incentives/boost-engine/adapters/messaging"
	postgresadapter "acorn/contexts/savings-incentives/boost-engine/adapters/postgres"
	workerapp "acorn/contexts/savings-incentives/boost-engine/application/workers"
	"acorn/internal/platform/config"
	"acorn/internal/platform/db"
	"acorn/internal/platform/httpserver"
	"acorn/internal/platform/messaging"
	"acorn/internal/shared/events"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres      *db.Postgres
	bus           *messaging.Bus
	expiry        workerapp.ExpiryJob
	sweepInterval time.Duration
	consumeEvents bool
	logger        *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")

	bus, err := messaging.NewBus(cfg.BusBrokers, logger)
	if err != nil {
		return nil, err
	}

	var pg *db.Postgres
	var module boostengine.Module
	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		pg, err = db.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		repo := postgresadapter.NewRepository(pg.DB, logger)
		module = boostengine.NewModule(boostengine.Dependencies{
			Repository:  repo,
			Transfers:   memory.NewLedger(),
			Messages:    memory.NewDispatcher(),
			Events:      messagingadapter.NewPublisher(bus),
			Clock:       postgresadapter.SystemClock{},
			IDGenerator: postgresadapter.UUIDGenerator{},
			Logger:      logger,
		})
	} else {
		module = boostengine.NewInMemoryModule(memory.Seed{}, bus, logger)
	}

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewBus(cfg.BusBrokers, logger)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	app := &WorkerApp{
		postgres: pg,
		bus:      bus,
		expiry: workerapp.ExpiryJob{
			Repo:      repo,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: cfg.ExpiryBatchSize,
			Logger:    logger,
		},
		sweepInterval: cfg.ExpirySweepInterval,
		consumeEvents: cfg.EnableEventConsumer,
		logger:        logger,
	}
	if !cfg.EnableExpirySweep {
		app.sweepInterval = 0
	}
	return app, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if w.consumeEvents {
		err := w.bus.Subscribe(ctx, messagingadapter.TopicBoostEvents, "boost-engine-worker-cg",
			func(_ context.Context, event events.Envelope) error {
				w.logger.Info("boost event consumed",
					"event", "worker_boost_event_consumed",
					"module", "internal/app/bootstrap",
					"layer", "worker",
					"event_id", event.EventID,
					"event_type", event.EventType,
					"entity_id", event.EntityID,
				)
				return nil
			})
		if err != nil {
			return err
		}
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"sweep_interval", w.sweepInterval.String(),
	)

	if w.sweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	w.expiry.Run(ctx, w.sweepInterval)
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
