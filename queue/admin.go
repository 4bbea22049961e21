package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// QueueStats is the per-queue state breakdown surfaced by the admin API.
type QueueStats struct {
	Queue  string         `json:"queue"`
	Counts map[Status]int `json:"counts"`
	Total  int            `json:"total"`
}

// Admin is the operator surface: read access to queue and job state plus
// idempotent management writes. All mutations here are out-of-band with
// respect to the engines and never touch currently leased jobs.
type Admin struct {
	store    AdminStore
	registry *Registry
	dlq      *DeadLetterRouter
	producer *Producer
	logger   *slog.Logger
}

// NewAdmin creates the admin service.
func NewAdmin(store AdminStore, registry *Registry, dlq *DeadLetterRouter, producer *Producer, opts ...AdminOption) (*Admin, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	options := &adminOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return &Admin{
		store:    store,
		registry: registry,
		dlq:      dlq,
		producer: producer,
		logger:   options.logger,
	}, nil
}

// AllQueueStats returns state counts for every registered queue, in
// registration order.
func (a *Admin) AllQueueStats(ctx context.Context) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(a.registry.Queues()))
	for _, name := range a.registry.Queues() {
		qs, err := a.QueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, qs)
	}
	return stats, nil
}

// QueueStats returns the state counts of one queue.
func (a *Admin) QueueStats(ctx context.Context, queueName string) (QueueStats, error) {
	if !a.registry.Has(queueName) {
		return QueueStats{}, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	counts, err := a.store.CountJobs(ctx, queueName)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to count jobs in queue %q: %w", queueName, err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return QueueStats{Queue: queueName, Counts: counts, Total: total}, nil
}

// ListJobs pages through the jobs of a queue in a given state, newest first.
func (a *Admin) ListJobs(ctx context.Context, queueName string, status Status, page Page) ([]Job, int, error) {
	if !a.registry.Has(queueName) {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	if !status.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return a.store.ListJobs(ctx, queueName, status, page.Normalize())
}

// GetJob returns a single job with its full failure history.
func (a *Admin) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return a.store.GetJob(ctx, id)
}

// RetryJob forces a failed or dead-lettered job back to waiting with its
// attempt counter reset. Jobs in any other state are rejected.
func (a *Admin) RetryJob(ctx context.Context, id uuid.UUID) error {
	if err := a.store.ResetJob(ctx, id); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "job force-retried", slog.String("job_id", id.String()))
	return nil
}

// DeleteJob removes a non-active job. Deleting a job that is already gone
// is a no-op, so retried admin calls stay idempotent.
func (a *Admin) DeleteJob(ctx context.Context, id uuid.UUID) error {
	err := a.store.DeleteJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		return err
	}
	a.logger.InfoContext(ctx, "job deleted", slog.String("job_id", id.String()))
	return nil
}

// PurgeQueue removes all non-active jobs of a queue matching the category.
// Leased jobs are never touched.
func (a *Admin) PurgeQueue(ctx context.Context, queueName string, category PurgeCategory) (int, error) {
	if !a.registry.Has(queueName) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	if !category.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPurgeCategory, category)
	}
	removed, err := a.store.PurgeQueue(ctx, queueName, category)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue %q: %w", queueName, err)
	}
	a.logger.WarnContext(ctx, "queue purged",
		slog.String("queue", queueName),
		slog.String("category", string(category)),
		slog.Int("removed", removed))
	return removed, nil
}

// ListDeadLetters pages through dead-letter entries, optionally filtered by
// origin queue.
func (a *Admin) ListDeadLetters(ctx context.Context, queueName string, page Page) ([]DeadLetterEntry, int, error) {
	if queueName != "" && !a.registry.Has(queueName) {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	return a.dlq.List(ctx, queueName, page)
}

// ReplayDeadLetter re-enqueues the payload of a dead-letter entry as a fresh
// job in its origin queue and returns the new job id.
func (a *Admin) ReplayDeadLetter(ctx context.Context, entryID uuid.UUID) (uuid.UUID, error) {
	return a.dlq.Replay(ctx, a.producer, entryID)
}

// AdminOption is a functional option for configuring the admin service
type AdminOption func(*adminOptions)

type adminOptions struct {
	logger *slog.Logger
}

// WithAdminLogger sets the logger for the admin service
func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(o *adminOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
