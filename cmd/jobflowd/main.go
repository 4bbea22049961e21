// jobflowd runs the job queue daemon: per-queue execution engines, the cron
// scheduler and the admin HTTP API, all driven from environment configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobflow/pkg/config"
	"github.com/dmitrymomot/jobflow/pkg/httpserver"
	"github.com/dmitrymomot/jobflow/pkg/lock"
	"github.com/dmitrymomot/jobflow/pkg/logger"
	"github.com/dmitrymomot/jobflow/pkg/pg"
	"github.com/dmitrymomot/jobflow/pkg/redis"
	"github.com/dmitrymomot/jobflow/queue"
	"github.com/dmitrymomot/jobflow/queue/pgstore"
	"github.com/dmitrymomot/jobflow/queue/queueapi"
)

type appConfig struct {
	Logger logger.Config
	Queue  queue.Config
	Admin  queueapi.Config

	// StorageDriver selects the job store backend: memory or postgres.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	// SchedulerLock enables the Redis-backed scheduler lock so only one
	// replica fires cron triggers.
	SchedulerLock bool `env:"SCHEDULER_LOCK_ENABLED" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("jobflowd exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.FromConfig(cfg.Logger)
	slog.SetDefault(log)

	checks := make([]httpserver.HealthCheck, 0, 2)

	var store queue.Storage
	switch cfg.StorageDriver {
	case "memory":
		store = queue.NewMemoryStore()
	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return fmt.Errorf("failed to load postgres config: %w", err)
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool, pgstore.MigrationsFS(), pgstore.MigrationsDir, pgCfg, log); err != nil {
			return err
		}
		store = pgstore.New(pool)
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Probe: pg.Healthcheck(pool)})
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	registry, err := newRegistry(cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to build queue registry: %w", err)
	}
	if err := registerHandlers(registry, log); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	dlq, err := queue.NewDeadLetterRouter(store, queue.WithDeadLetterLogger(log))
	if err != nil {
		return err
	}
	producer, err := queue.NewProducer(store, registry, queue.WithProducerLogger(log))
	if err != nil {
		return err
	}

	schedOpts := []queue.SchedulerOption{
		queue.WithCheckInterval(cfg.Queue.SchedulerInterval),
		queue.WithSchedulerLogger(log),
	}
	if cfg.SchedulerLock {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return fmt.Errorf("failed to load redis config: %w", err)
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		schedOpts = append(schedOpts, queue.WithLocker(lock.New(client)))
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Probe: redis.Healthcheck(client)})
	}

	scheduler, err := queue.NewScheduler(producer, schedOpts...)
	if err != nil {
		return err
	}
	if err := registerTriggers(scheduler, cfg.Queue.TriggersFile); err != nil {
		return fmt.Errorf("failed to register triggers: %w", err)
	}

	engines := make([]*queue.Engine, 0, len(registry.Queues()))
	for _, name := range registry.Queues() {
		engine, err := queue.NewEngine(store, registry, name, dlq,
			queue.WithMaintenanceInterval(cfg.Queue.MaintenanceInterval),
			queue.WithShutdownGrace(cfg.Queue.ShutdownGrace),
			queue.WithEngineLogger(log),
		)
		if err != nil {
			return fmt.Errorf("failed to build engine for queue %q: %w", name, err)
		}
		engines = append(engines, engine)
	}

	orchestrator, err := queue.NewOrchestrator(engines,
		queue.WithScheduler(scheduler),
		queue.WithOrchestratorLogger(log),
	)
	if err != nil {
		return err
	}

	admin, err := queue.NewAdmin(store, registry, dlq, producer, queue.WithAdminLogger(log))
	if err != nil {
		return err
	}
	apiServer, err := queueapi.NewServer(admin, cfg.Admin.Token,
		queueapi.WithLogger(log),
		queueapi.WithHealthChecks(checks...),
	)
	if err != nil {
		return err
	}
	httpServer := httpserver.New(
		httpserver.WithAddr(cfg.Admin.Addr),
		httpserver.WithLogger(log),
	)

	log.Info("jobflowd starting",
		slog.String("storage", cfg.StorageDriver),
		slog.Int("queues", len(registry.Queues())),
		slog.String("admin_addr", cfg.Admin.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orchestrator.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx, apiServer.Handler()) })
	return g.Wait()
}
