package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer enqueues jobs into registered queues. It is safe for concurrent
// use and shared between API handlers and the cron scheduler.
type Producer struct {
	store    ProducerStore
	registry *Registry
	logger   *slog.Logger
}

// NewProducer creates a Producer bound to a registry of known queues.
func NewProducer(store ProducerStore, registry *Registry, opts ...ProducerOption) (*Producer, error) {
	if store == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	options := &producerOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Producer{
		store:    store,
		registry: registry,
		logger:   options.logger,
	}, nil
}

// Enqueue durably records a job as waiting (or delayed when a delay is set)
// and returns its id. The job is not executed synchronously.
//
// Fails with ErrUnknownQueue for unregistered queues, ErrUnknownJobType for
// job types with no handler, and ErrInvalidPayload when the handler declares
// enqueue-time validation and the payload fails it. When an idempotency key
// is provided and a non-terminal job with the same key already exists in the
// queue, the call is a no-op returning the existing id.
func (p *Producer) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	cfg, err := p.registry.Config(queueName)
	if err != nil {
		return uuid.Nil, err
	}

	handler, ok := p.registry.Handler(queueName, jobType)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %q in queue %q", ErrUnknownJobType, jobType, queueName)
	}

	options := &enqueueOptions{
		priority:    PriorityDefault,
		maxAttempts: cfg.MaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return uuid.Nil, err
	}

	// Enqueue-time schema validation is opt-in via the handler; without it,
	// validation is deferred to execution time.
	if v, ok := handler.(PayloadValidator); ok {
		if err := v.ValidatePayload(raw); err != nil {
			return uuid.Nil, err
		}
	}

	if options.idempotencyKey != "" {
		existing, err := p.store.FindByIdempotencyKey(ctx, queueName, options.idempotencyKey)
		if err != nil {
			return uuid.Nil, fmt.Errorf("idempotency lookup for key %q: %w", options.idempotencyKey, err)
		}
		if existing != nil {
			p.logger.DebugContext(ctx, "duplicate enqueue suppressed",
				slog.String("queue", queueName),
				slog.String("job_type", jobType),
				slog.String("idempotency_key", options.idempotencyKey),
				slog.String("job_id", existing.ID.String()))
			return existing.ID, nil
		}
	}

	job := p.buildJob(queueName, jobType, raw, options)
	if err := p.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job %q in queue %q: %w", jobType, queueName, err)
	}

	p.logger.InfoContext(ctx, "job enqueued",
		slog.String("queue", queueName),
		slog.String("job_type", jobType),
		slog.String("job_id", job.ID.String()),
		slog.String("status", string(job.Status)))

	return job.ID, nil
}

func (p *Producer) buildJob(queueName, jobType string, payload json.RawMessage, options *enqueueOptions) *Job {
	now := time.Now()

	job := &Job{
		ID:             uuid.New(),
		Queue:          queueName,
		Type:           jobType,
		Payload:        payload,
		Status:         StatusWaiting,
		Priority:       options.priority,
		MaxAttempts:    options.maxAttempts,
		IdempotencyKey: options.idempotencyKey,
		CreatedAt:      now,
	}

	var delayUntil time.Time
	if options.runAt != nil {
		delayUntil = *options.runAt
	} else if options.delay > 0 {
		delayUntil = now.Add(options.delay)
	}
	if delayUntil.After(now) {
		job.Status = StatusDelayed
		job.DelayUntil = &delayUntil
	}

	return job
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload of type %T: %v", ErrPayloadMarshal, payload, err)
	}
	return raw, nil
}
