package queue

import (
	"log/slog"
	"time"
)

// ProducerOption is a functional option for configuring a Producer
type ProducerOption func(*producerOptions)

type producerOptions struct {
	logger *slog.Logger
}

// WithProducerLogger sets the logger for the producer
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority       Priority
	maxAttempts    int
	delay          time.Duration
	runAt          *time.Time
	idempotencyKey string
}

// WithPriority sets the priority for the job (lower runs first)
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts overrides the queue's default retry budget
func WithMaxAttempts(maxAttempts int) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
	}
}

// WithDelay schedules the job for future execution after the given delay
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithRunAt schedules the job for execution at a specific time
func WithRunAt(runAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = &runAt
	}
}

// WithIdempotencyKey suppresses duplicate enqueues: if a non-terminal job
// with the same key exists in the queue, Enqueue returns its id instead of
// inserting a new job.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		if key != "" {
			o.idempotencyKey = key
		}
	}
}
