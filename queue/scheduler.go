package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PayloadBuilder constructs the payload for a trigger firing at the given time.
type PayloadBuilder func(fireTime time.Time) any

// Trigger is a recurring rule that enqueues a job each time its schedule fires.
type Trigger struct {
	// Name identifies the trigger; unique across the scheduler.
	Name string
	// Schedule decides the fire times.
	Schedule Schedule
	// Queue and JobType select the work to enqueue.
	Queue   string
	JobType string
	// Payload builds the job payload at fire time. Nil enqueues an empty
	// JSON object.
	Payload PayloadBuilder
	// Priority and MaxAttempts are passed through to the enqueue call;
	// zero values fall back to the enqueue defaults.
	Priority    Priority
	MaxAttempts int
}

// Locker serializes scheduler ticks across process replicas so a firing is
// enqueued by at most one of them. Single-process deployments leave it nil.
type Locker interface {
	// TryLock acquires the named lock for at most ttl; ok is false when
	// another holder owns it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (ok bool, err error)
	// Unlock releases the named lock.
	Unlock(ctx context.Context, name string) error
}

// triggerState tracks the next computed fire time of a registered trigger.
type triggerState struct {
	trigger  Trigger
	nextFire time.Time
}

// Scheduler fires recurring triggers by enqueueing jobs through a Producer.
//
// Next-fire times are recomputed from the schedule at startup rather than
// persisted, so a restart after downtime skips missed runs instead of
// firing them late. Double-firing across restarts and replicas is prevented
// by deterministic idempotency keys derived from the fire time.
type Scheduler struct {
	producer *Producer
	triggers map[string]*triggerState
	mu       sync.Mutex

	interval time.Duration
	locker   Locker
	lockName string
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that enqueues through producer.
func NewScheduler(producer *Producer, opts ...SchedulerOption) (*Scheduler, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		lockName:      "jobflow:scheduler",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		producer: producer,
		triggers: make(map[string]*triggerState),
		interval: options.checkInterval,
		locker:   options.locker,
		lockName: options.lockName,
		logger:   options.logger,
	}, nil
}

// AddTrigger registers a recurring trigger. Duplicate names and invalid
// definitions fail fast.
func (s *Scheduler) AddTrigger(t Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("%w: trigger has no name", ErrInvalidSchedule)
	}
	if t.Schedule == nil {
		return fmt.Errorf("%w: trigger %q has no schedule", ErrInvalidSchedule, t.Name)
	}
	if t.Queue == "" || t.JobType == "" {
		return fmt.Errorf("%w: trigger %q has no target", ErrInvalidSchedule, t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrTriggerExists, t.Name)
	}
	s.triggers[t.Name] = &triggerState{trigger: t}

	s.logger.Info("registered trigger",
		slog.String("trigger", t.Name),
		slog.String("schedule", t.Schedule.String()),
		slog.String("queue", t.Queue),
		slog.String("job_type", t.JobType))
	return nil
}

// Triggers returns the names of the registered triggers.
func (s *Scheduler) Triggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.triggers))
	for name := range s.triggers {
		names = append(names, name)
	}
	return names
}

// Start runs the tick loop until ctx is cancelled. Next-fire times are
// seeded from the current time: runs missed while the process was down are
// skipped by policy, not replayed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.triggers) == 0 {
		s.mu.Unlock()
		return ErrNoTriggers
	}
	now := time.Now()
	for _, st := range s.triggers {
		st.nextFire = st.trigger.Schedule.Next(now)
		s.logger.Info("trigger armed",
			slog.String("trigger", st.trigger.Name),
			slog.Time("next_fire", st.nextFire))
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick fires every due trigger once and advances its next-fire time.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, s.lockName, s.interval)
		if err != nil {
			s.logger.Error("scheduler lock attempt failed", slog.String("error", err.Error()))
			return
		}
		if !ok {
			return // another replica is driving the triggers
		}
		defer func() {
			if err := s.locker.Unlock(ctx, s.lockName); err != nil {
				s.logger.Error("scheduler unlock failed", slog.String("error", err.Error()))
			}
		}()
	}

	s.mu.Lock()
	due := make([]*triggerState, 0, len(s.triggers))
	for _, st := range s.triggers {
		if !st.nextFire.After(now) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.fire(ctx, st, now)
	}
}

// fire enqueues exactly one job for the trigger's current fire time. The
// idempotency key embeds the fire time, so concurrent replicas or a restart
// racing the same firing collapse to a single job.
func (s *Scheduler) fire(ctx context.Context, st *triggerState, now time.Time) {
	s.mu.Lock()
	fireTime := st.nextFire
	// Advancing from now (not from fireTime) skips any intermediate runs
	// that went by while the loop was stalled.
	st.nextFire = st.trigger.Schedule.Next(now)
	s.mu.Unlock()

	t := st.trigger

	var payload any = struct{}{}
	if t.Payload != nil {
		payload = t.Payload(fireTime)
	}

	opts := []EnqueueOption{
		WithIdempotencyKey(fmt.Sprintf("trigger:%s:%d", t.Name, fireTime.Unix())),
	}
	if t.Priority != 0 {
		opts = append(opts, WithPriority(t.Priority))
	}
	if t.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(t.MaxAttempts))
	}

	jobID, err := s.producer.Enqueue(ctx, t.Queue, t.JobType, payload, opts...)
	if err != nil {
		s.logger.Error("trigger enqueue failed",
			slog.String("trigger", t.Name),
			slog.String("queue", t.Queue),
			slog.String("job_type", t.JobType),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("trigger fired",
		slog.String("trigger", t.Name),
		slog.Time("fire_time", fireTime),
		slog.Time("next_fire", st.nextFire),
		slog.String("job_id", jobID.String()))
}
