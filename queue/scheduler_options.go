package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	locker        Locker
	lockName      string
	logger        *slog.Logger
}

// WithCheckInterval sets how often the scheduler checks for due triggers
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithLocker serializes ticks across replicas with a distributed lock
func WithLocker(l Locker) SchedulerOption {
	return func(o *schedulerOptions) {
		o.locker = l
	}
}

// WithLockName overrides the name of the distributed scheduler lock
func WithLockName(name string) SchedulerOption {
	return func(o *schedulerOptions) {
		if name != "" {
			o.lockName = name
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
