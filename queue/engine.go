package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Engine is the execution engine of a single queue: a bounded pool of
// concurrent executors that lease eligible jobs, run the registered handler,
// and route failures through the retry policy or the dead-letter router.
type Engine struct {
	queueName string
	cfg       QueueConfig
	store     EngineStore
	dlq       *DeadLetterRouter
	handlers  map[string]Handler
	ownerID   uuid.UUID

	sem    chan struct{}
	wg     sync.WaitGroup
	stopMu sync.Mutex // protects stopping state and WaitGroup operations

	activeMu sync.Mutex
	active   map[uuid.UUID]struct{}

	maintenanceInterval time.Duration
	shutdownGrace       time.Duration
	logger              *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewEngine creates the execution engine for one registered queue. The
// handler set is snapshotted from the registry; registration after startup
// is not observed.
func NewEngine(store EngineStore, registry *Registry, queueName string, dlq *DeadLetterRouter, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}
	cfg, err := registry.Config(queueName)
	if err != nil {
		return nil, err
	}

	options := &engineOptions{
		maintenanceInterval: 30 * time.Second,
		shutdownGrace:       30 * time.Second,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	handlers := make(map[string]Handler, len(registry.Handlers(queueName)))
	for jobType, h := range registry.Handlers(queueName) {
		handlers[jobType] = h
	}

	return &Engine{
		queueName:           queueName,
		cfg:                 cfg,
		store:               store,
		dlq:                 dlq,
		handlers:            handlers,
		ownerID:             uuid.New(),
		sem:                 make(chan struct{}, cfg.Concurrency),
		active:              make(map[uuid.UUID]struct{}),
		maintenanceInterval: options.maintenanceInterval,
		shutdownGrace:       options.shutdownGrace,
		logger:              options.logger,
	}, nil
}

// Queue returns the name of the queue this engine serves.
func (e *Engine) Queue() string { return e.queueName }

// Start begins leasing and executing jobs in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine %q already started", e.queueName)
	}
	if len(e.handlers) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: queue %q", ErrNoHandlers, e.queueName)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.stopping.Store(false)

	go e.run()
	go e.maintain()

	e.logger.Info("engine started",
		slog.String("queue", e.queueName),
		slog.String("owner_id", e.ownerID.String()),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Duration("lease_ttl", e.cfg.LeaseTTL))

	return nil
}

// Stop drains the engine: no new jobs are leased, in-flight handlers get up
// to the shutdown grace period to finish, and any job still active after the
// grace period has its lease released so another worker can pick it up.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return fmt.Errorf("engine %q not started", e.queueName)
	}

	e.stopMu.Lock()
	e.stopping.Store(true)
	e.stopMu.Unlock()

	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()

	e.logger.Info("engine stopping, draining active jobs",
		slog.String("queue", e.queueName),
		slog.Duration("grace", e.shutdownGrace))

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped", slog.String("queue", e.queueName))
		return nil
	case <-time.After(e.shutdownGrace):
	}

	// Grace expired: release leases so the jobs become re-leasable, or
	// dead-lettered when the lost lease spent their last attempt. The
	// abandoned handlers may still be running; their completion calls will
	// fail on the released jobs, preserving at-least-once semantics.
	released := e.releaseActive()
	e.logger.Warn("engine stopped with jobs still active, leases released",
		slog.String("queue", e.queueName),
		slog.Int("released", released))
	return nil
}

// Run returns a function suitable for errgroup: it starts the engine,
// blocks until ctx is cancelled, then performs a graceful stop.
func (e *Engine) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return e.Stop()
	}
}

func (e *Engine) releaseActive() int {
	e.activeMu.Lock()
	ids := make([]uuid.UUID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.activeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	released := 0
	for _, id := range ids {
		if err := e.store.ReleaseJob(ctx, id); err != nil {
			e.logger.Error("failed to release job lease",
				slog.String("queue", e.queueName),
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		released++
	}
	return released
}

// run is the main lease-and-execute loop.
func (e *Engine) run() {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			select {
			case e.sem <- struct{}{}:
				e.stopMu.Lock()
				if e.stopping.Load() {
					e.stopMu.Unlock()
					<-e.sem
					return
				}
				e.wg.Add(1)
				e.stopMu.Unlock()

				go func() {
					defer e.wg.Done()
					defer func() { <-e.sem }()

					if err := e.leaseAndProcess(); err != nil && !errors.Is(err, ErrUnknownJobType) {
						e.logger.Error("failed to process job",
							slog.String("queue", e.queueName),
							slog.String("error", err.Error()))
					}
				}()
			default:
				// All executor slots busy this tick.
			}
		}
	}
}

// maintain runs periodic queue upkeep: expired-lease recovery, promotion of
// due delayed jobs, retention pruning, and liveness logging.
func (e *Engine) maintain() {
	ticker := time.NewTicker(e.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), e.maintenanceInterval)

			recovered, err := e.store.RecoverExpiredLeases(ctx, e.queueName)
			if err != nil {
				e.logger.Error("lease recovery failed",
					slog.String("queue", e.queueName),
					slog.String("error", err.Error()))
			}
			promoted, err := e.store.PromoteDelayed(ctx, e.queueName)
			if err != nil {
				e.logger.Error("delayed promotion failed",
					slog.String("queue", e.queueName),
					slog.String("error", err.Error()))
			}
			pruned, err := e.store.PruneFinished(ctx, e.queueName, e.cfg.Retention)
			if err != nil {
				e.logger.Error("retention pruning failed",
					slog.String("queue", e.queueName),
					slog.String("error", err.Error()))
			}
			cancel()

			e.activeMu.Lock()
			activeCount := len(e.active)
			e.activeMu.Unlock()

			e.logger.Info("engine liveness",
				slog.String("queue", e.queueName),
				slog.Int("active", activeCount),
				slog.Int("recovered_leases", recovered),
				slog.Int("promoted_delayed", promoted),
				slog.Int("pruned_finished", pruned))
		}
	}
}

func (e *Engine) leaseAndProcess() error {
	job, err := e.store.ClaimJob(e.ctx, e.queueName, e.ownerID, e.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil
	}

	e.trackActive(job.ID)
	defer e.untrackActive(job.ID)

	e.logger.Debug("job leased",
		slog.String("queue", e.queueName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
		slog.Int("attempts_made", job.AttemptsMade))

	return e.process(job)
}

func (e *Engine) trackActive(id uuid.UUID) {
	e.activeMu.Lock()
	e.active[id] = struct{}{}
	e.activeMu.Unlock()
}

func (e *Engine) untrackActive(id uuid.UUID) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

// process executes a leased job with its handler.
func (e *Engine) process(job *Job) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			e.logger.Error("handler panicked",
				slog.String("queue", e.queueName),
				slog.String("job_id", job.ID.String()),
				slog.String("job_type", job.Type),
				slog.Any("panic", r))
			_ = e.handleFailure(context.WithoutCancel(e.ctx), job, retErr, time.Since(start))
		}
	}()

	// Store transitions use a detached context so jobs finishing during a
	// graceful drain are still recorded after Stop cancels the engine.
	storeCtx := context.WithoutCancel(e.ctx)

	handler, ok := e.handlers[job.Type]
	if !ok {
		return e.handleMissingHandler(storeCtx, job)
	}

	// The handler context is detached from the engine lifecycle so a
	// graceful shutdown can let the job finish; the lease TTL bounds it.
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LeaseTTL)
	defer cancel()
	ctx = withJobControl(ctx, e, job.ID)

	err := handler.Handle(ctx, job.Payload)
	duration := time.Since(start)

	if err != nil {
		return e.handleFailure(storeCtx, job, err, duration)
	}
	return e.handleSuccess(storeCtx, job, duration)
}

// handleMissingHandler routes jobs with no registered handler straight to
// the dead-letter queue: they would fail on every retry until an operator
// deploys the handler and replays them.
func (e *Engine) handleMissingHandler(ctx context.Context, job *Job) error {
	e.logger.Error("no handler registered for job type",
		slog.String("queue", e.queueName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type))

	errMsg := "no handler registered for job type: " + job.Type
	if _, err := e.store.FailJob(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", job.ID, err)
	}
	if _, err := e.dlq.Move(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
}

// handleFailure records the failed attempt and routes the job: straight to
// the dead-letter queue for non-retryable errors or an exhausted budget,
// otherwise to delayed with the queue's backoff.
func (e *Engine) handleFailure(ctx context.Context, job *Job, execErr error, duration time.Duration) error {
	e.logger.Error("job failed",
		slog.String("queue", e.queueName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
		slog.Int("attempts_made", job.AttemptsMade),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Duration("duration", duration),
		slog.Bool("non_retryable", IsNonRetryable(execErr)),
		slog.String("error", execErr.Error()))

	updated, err := e.store.FailJob(ctx, job.ID, execErr.Error())
	if err != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}

	if IsNonRetryable(execErr) || updated.AttemptsMade >= updated.MaxAttempts {
		if _, err := e.dlq.Move(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
		}
		e.logger.Warn("job moved to dead letter queue",
			slog.String("queue", e.queueName),
			slog.String("job_id", job.ID.String()),
			slog.String("job_type", job.Type),
			slog.Int("attempts_made", updated.AttemptsMade))
		return nil
	}

	delay := e.cfg.Backoff.Delay(updated.AttemptsMade)
	delayUntil := time.Now().Add(delay)
	if err := e.store.RescheduleJob(ctx, job.ID, delayUntil); err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}

	e.logger.Info("job scheduled for retry",
		slog.String("queue", e.queueName),
		slog.String("job_id", job.ID.String()),
		slog.Int("attempts_made", updated.AttemptsMade),
		slog.Duration("retry_in", delay))
	return nil
}

func (e *Engine) handleSuccess(ctx context.Context, job *Job, duration time.Duration) error {
	if err := e.store.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	e.logger.Info("job completed",
		slog.String("queue", e.queueName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
		slog.Duration("duration", duration))
	return nil
}

// heartbeat refreshes the lease of an active job; exposed to handlers via
// the job control helpers in context.go.
func (e *Engine) heartbeat(ctx context.Context, id uuid.UUID) error {
	return e.store.ExtendLease(ctx, id, e.cfg.LeaseTTL)
}

func (e *Engine) reportProgress(ctx context.Context, id uuid.UUID, progress int) error {
	return e.store.UpdateProgress(ctx, id, progress)
}
