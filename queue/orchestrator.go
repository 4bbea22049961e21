package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the queue subsystem as one unit: the cron scheduler plus
// one execution engine per queue. On shutdown it stops the scheduler first
// (no new enqueues during drain), then drains the engines, which release the
// leases of any job still active after their grace period.
type Orchestrator struct {
	engines   []*Engine
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given engines.
func NewOrchestrator(engines []*Engine, opts ...OrchestratorOption) (*Orchestrator, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("no engines to orchestrate")
	}

	options := &orchestratorOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return &Orchestrator{
		engines:   engines,
		scheduler: options.scheduler,
		logger:    options.logger,
	}, nil
}

// Run starts everything and blocks until ctx is cancelled, then performs the
// ordered shutdown. Typically driven by signal.NotifyContext in main.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Engines run on a detached context: their lease loops are stopped
	// explicitly below so the scheduler can be shut down first.
	engineCtx := context.WithoutCancel(ctx)
	started := make([]*Engine, 0, len(o.engines))
	for _, e := range o.engines {
		if err := e.Start(engineCtx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return fmt.Errorf("failed to start engine %q: %w", e.Queue(), err)
		}
		started = append(started, e)
	}

	schedulerDone := make(chan error, 1)
	schedulerCtx, stopScheduler := context.WithCancel(context.WithoutCancel(ctx))
	defer stopScheduler()
	if o.scheduler != nil {
		go func() {
			schedulerDone <- o.scheduler.Start(schedulerCtx)
		}()
	} else {
		schedulerDone <- nil
	}

	o.logger.Info("queue orchestrator running", slog.Int("engines", len(o.engines)))

	<-ctx.Done()
	o.logger.Info("shutdown signal received, stopping scheduler")

	stopScheduler()
	if err := <-schedulerDone; err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("scheduler exited with error", slog.String("error", err.Error()))
	}

	o.logger.Info("draining engines")
	var g errgroup.Group
	for _, e := range o.engines {
		g.Go(e.Stop)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	o.logger.Info("queue orchestrator stopped")
	return nil
}

// OrchestratorOption is a functional option for configuring an Orchestrator
type OrchestratorOption func(*orchestratorOptions)

type orchestratorOptions struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// WithScheduler attaches a cron scheduler to the orchestrator lifecycle
func WithScheduler(s *Scheduler) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.scheduler = s
	}
}

// WithOrchestratorLogger sets the logger for the orchestrator
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
