// internal/app/app.go

// Package app wires the engine's components from configuration and runs them
// until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solver-engine/internal/api"
	"github.com/rovshanmuradov/solver-engine/internal/config"
	"github.com/rovshanmuradov/solver-engine/internal/events"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
	"github.com/rovshanmuradov/solver-engine/internal/oracle"
	"github.com/rovshanmuradov/solver-engine/internal/scheduler"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/storage"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

const solverHeartbeat = 30 * time.Second

// App owns every long-lived component of the engine.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clock.Clock

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus
	store    storage.Storage

	Transfers *transfer.Manager
	Solvers   *solver.Supervisor

	// In-process oracles; values are set at runtime.
	Prices    *oracle.StaticPrices
	Balances  *oracle.StaticBalances
	Contracts *oracle.StaticContracts

	scheduler *scheduler.Scheduler
	pruner    *scheduler.Pruner
	server    *api.Server
	shutdown  *ShutdownHandler

	schedulerDone chan struct{}
}

// New builds the engine. Components opened before a failure are closed
// again before New returns the error.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		cfg:           cfg,
		logger:        logger,
		clock:         clock.New(),
		registry:      prometheus.NewRegistry(),
		shutdown:      NewShutdownHandler(logger, DefaultShutdownTimeout),
		schedulerDone: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	a.store, err = storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.PostgresURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.shutdown.AddFunc("storage", func(context.Context) error { return a.store.Close() })

	a.bus = events.NewBus(logger, cfg.Events.BufferSize, a.metrics)
	if cfg.Events.NATSURL != "" {
		if err = a.attachNATS(); err != nil {
			_ = a.bus.Shutdown(ctx)
			return nil, err
		}
	}
	a.shutdown.AddFunc("event_bus", a.bus.Shutdown)

	if err = a.buildCore(); err != nil {
		return nil, err
	}
	if err = a.restoreSolvers(ctx); err != nil {
		return nil, err
	}

	if cfg.Scheduler.RetentionHours > 0 {
		a.pruner, err = scheduler.NewPruner(a.Transfers, cfg.Scheduler.PruneSchedule, cfg.Scheduler.Retention(), logger)
		if err != nil {
			return nil, err
		}
	}

	handler := api.NewHandler(a.Transfers, a.Solvers, logger)
	a.server = api.NewServer(cfg.HTTP.ListenAddr, cfg.HTTP.GinMode, handler, a.metrics, a.registry, logger)
	return a, nil
}

// attachNATS forwards every bus event to NATS. The sink is detached and the
// connection drained only after the bus has delivered its backlog.
func (a *App) attachNATS() error {
	conn, err := events.DialNATS(events.NATSConfig{
		URL:           a.cfg.Events.NATSURL,
		SubjectPrefix: a.cfg.Events.SubjectPrefix,
	}, a.logger)
	if err != nil {
		return err
	}
	a.shutdown.AddFunc("nats", func(context.Context) error { return conn.Drain() })

	sub := events.NewNATSSink(conn, a.cfg.Events.SubjectPrefix, a.logger).Attach(a.bus)
	a.shutdown.AddFunc("nats_sink", func(context.Context) error {
		sub.Unsubscribe()
		return nil
	})
	return nil
}

func (a *App) buildCore() error {
	fee, err := a.cfg.Defaults.FeeAmount()
	if err != nil {
		return fmt.Errorf("invalid default fee: %w", err)
	}

	a.Transfers = transfer.NewManager(a.store.Transfers(), a.clock, a.logger,
		transfer.WithDefaults(transfer.Defaults{
			MaxWaitTime: a.cfg.Defaults.MaxWaitTime(),
			Priority:    a.cfg.Defaults.Priority,
			Fee:         fee,
		}),
		transfer.WithEvents(a.bus),
		transfer.WithMetrics(a.metrics))

	a.Solvers = solver.NewSupervisor(a.store.Solvers(), a.clock, a.logger,
		solver.WithRunner(solver.NewIdleRunner(a.clock, solverHeartbeat, a.logger)),
		solver.WithEvents(a.bus),
		solver.WithMetrics(a.metrics))
	a.shutdown.AddFunc("solvers", a.Solvers.Shutdown)

	a.Prices = oracle.NewStaticPrices()
	a.Balances = oracle.NewStaticBalances()
	a.Contracts = oracle.NewStaticContracts()
	observer := oracle.NewObserver(oracle.Set{
		Prices:    a.Prices,
		Balances:  a.Balances,
		Contracts: a.Contracts,
		Clock:     a.clock,
	}, a.logger, a.metrics)

	a.scheduler = scheduler.New(scheduler.Config{
		Interval:        a.cfg.Scheduler.Interval(),
		Concurrency:     a.cfg.Scheduler.Concurrency,
		DispatchRetries: a.cfg.Scheduler.DispatchRetries,
		RetryInterval:   a.cfg.Scheduler.RetryInterval(),
	}, a.Transfers, a.Solvers, observer, scheduler.NewLogDispatcher(a.logger), a.clock, a.logger, a.metrics)
	return nil
}

// restoreSolvers restarts solvers that were running before a restart, then
// registers the ones from the bootstrap file that do not exist yet.
func (a *App) restoreSolvers(ctx context.Context) error {
	resumed, err := a.Solvers.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume solvers: %w", err)
	}
	if resumed > 0 {
		a.logger.Info("Resumed solvers", zap.Int("count", resumed))
	}

	if a.cfg.SolversFile == "" {
		return nil
	}
	defs, err := solver.LoadYAML(a.cfg.SolversFile, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load solvers file %s: %w", a.cfg.SolversFile, err)
	}
	created, err := a.Solvers.Bootstrap(ctx, defs)
	if err != nil {
		return fmt.Errorf("failed to bootstrap solvers: %w", err)
	}
	a.logger.Info("Bootstrapped solvers",
		zap.String("file", a.cfg.SolversFile),
		zap.Int("defined", len(defs)),
		zap.Int("created", created))
	return nil
}

func (a *App) Server() *api.Server {
	return a.server
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(a.schedulerDone)
		return a.scheduler.Run(gctx)
	})
	a.shutdown.AddFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-a.schedulerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if a.pruner != nil {
		a.pruner.Start()
		a.shutdown.AddFunc("pruner", a.pruner.Stop)
	}

	g.Go(a.server.Start)
	a.shutdown.AddFunc("http", a.server.Shutdown)

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown.Shutdown(context.Background())
	})

	a.logger.Info("Engine started",
		zap.String("addr", a.cfg.HTTP.ListenAddr),
		zap.String("storage", a.cfg.Storage.Driver))

	return g.Wait()
}

// Close shuts the engine down without Run, e.g. after a failed start.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
