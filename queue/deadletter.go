package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DeadLetterRouter receives permanently failed jobs and preserves their
// failure history for manual inspection and replay.
type DeadLetterRouter struct {
	store  DeadLetterStore
	logger *slog.Logger
}

// NewDeadLetterRouter creates a router over the given store.
func NewDeadLetterRouter(store DeadLetterStore, opts ...DeadLetterOption) (*DeadLetterRouter, error) {
	if store == nil {
		return nil, ErrStorageNil
	}

	options := &deadLetterOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return &DeadLetterRouter{store: store, logger: options.logger}, nil
}

// Move marks the job dead-lettered and records the immutable entry.
func (r *DeadLetterRouter) Move(ctx context.Context, jobID uuid.UUID) (*DeadLetterEntry, error) {
	entry, err := r.store.MoveToDeadLetter(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to move job %s to dead letter queue: %w", jobID, err)
	}

	r.logger.InfoContext(ctx, "job dead-lettered",
		slog.String("queue", entry.Queue),
		slog.String("job_id", entry.JobID.String()),
		slog.String("entry_id", entry.ID.String()),
		slog.Int("attempts_made", entry.AttemptsMade))

	return entry, nil
}

// List pages through dead-letter entries; queueName filters by origin queue
// and matches all queues when empty.
func (r *DeadLetterRouter) List(ctx context.Context, queueName string, page Page) ([]DeadLetterEntry, int, error) {
	return r.store.ListDeadLetters(ctx, queueName, page.Normalize())
}

// Get fetches a single dead-letter entry by id.
func (r *DeadLetterRouter) Get(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	return r.store.GetDeadLetter(ctx, id)
}

// Replay re-injects a fresh job into the origin queue: same type, payload,
// and priority; AttemptsMade reset to zero. The dead-letter record itself
// stays intact as history. Returns the id of the new job.
func (r *DeadLetterRouter) Replay(ctx context.Context, producer *Producer, entryID uuid.UUID) (uuid.UUID, error) {
	entry, err := r.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return uuid.Nil, err
	}

	jobID, err := producer.Enqueue(ctx, entry.Queue, entry.Type, entry.Payload,
		WithPriority(entry.Priority))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to replay dead letter entry %s: %w", entryID, err)
	}

	r.logger.InfoContext(ctx, "dead letter entry replayed",
		slog.String("queue", entry.Queue),
		slog.String("entry_id", entryID.String()),
		slog.String("new_job_id", jobID.String()))

	return jobID, nil
}

// DeadLetterOption is a functional option for configuring a DeadLetterRouter
type DeadLetterOption func(*deadLetterOptions)

type deadLetterOptions struct {
	logger *slog.Logger
}

// WithDeadLetterLogger sets the logger for the router
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
