package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProducerStore is the persistence surface used by the Producer.
type ProducerStore interface {
	// CreateJob durably records a new job.
	CreateJob(ctx context.Context, job *Job) error

	// FindByIdempotencyKey returns the non-terminal job carrying the key in
	// the given queue, or (nil, nil) when no such job exists.
	FindByIdempotencyKey(ctx context.Context, queueName, key string) (*Job, error)
}

// EngineStore is the persistence surface used by the execution engine.
// All transitions must be atomic with respect to concurrent workers: two
// workers must never hold a lease on the same job at once.
type EngineStore interface {
	// ClaimJob atomically leases the highest-priority eligible job in the
	// queue for the given owner. Returns ErrNoJobToClaim when none is due.
	ClaimJob(ctx context.Context, queueName string, owner uuid.UUID, leaseTTL time.Duration) (*Job, error)

	// CompleteJob transitions an active job to completed and releases the lease.
	CompleteJob(ctx context.Context, id uuid.UUID) error

	// FailJob records a failed attempt: increments AttemptsMade, appends the
	// error to the failure history, sets LastError, releases the lease, and
	// leaves the job in the failed state pending retry routing. Returns the
	// updated job.
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) (*Job, error)

	// RescheduleJob transitions a failed job to delayed until the given time.
	RescheduleJob(ctx context.Context, id uuid.UUID, delayUntil time.Time) error

	// ExtendLease refreshes the lease expiry of an active job (heartbeat).
	ExtendLease(ctx context.Context, id uuid.UUID, leaseTTL time.Duration) error

	// UpdateProgress records handler-reported progress on an active job.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error

	// ReleaseJob counts a lost lease as a consumed attempt, recording it in
	// the failure history. The job returns to waiting while attempts remain
	// and is dead-lettered once the budget is spent. Used by shutdown after
	// the grace period expires.
	ReleaseJob(ctx context.Context, id uuid.UUID) error

	// RecoverExpiredLeases applies ReleaseJob semantics to every active job
	// in the queue whose lease has expired. Reports the count.
	RecoverExpiredLeases(ctx context.Context, queueName string) (int, error)

	// PromoteDelayed flips delayed jobs whose DelayUntil has passed back to
	// waiting. Reports the count.
	PromoteDelayed(ctx context.Context, queueName string) (int, error)

	// PruneFinished deletes completed and failed records older than the
	// retention window. Reports the count.
	PruneFinished(ctx context.Context, queueName string, retention time.Duration) (int, error)
}

// DeadLetterStore is the persistence surface used by the DeadLetterRouter.
type DeadLetterStore interface {
	// MoveToDeadLetter marks the job dead-lettered and records an immutable
	// dead-letter entry carrying the full failure history.
	MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) (*DeadLetterEntry, error)

	// GetDeadLetter fetches a single entry by id.
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)

	// ListDeadLetters pages through entries, optionally filtered by queue
	// (empty string matches all). Returns the page and the total count.
	ListDeadLetters(ctx context.Context, queueName string, page Page) ([]DeadLetterEntry, int, error)
}

// AdminStore is the persistence surface used by the admin service.
type AdminStore interface {
	// CountJobs returns per-status job counts for a queue.
	CountJobs(ctx context.Context, queueName string) (map[Status]int, error)

	// ListJobs pages through jobs of a queue in a given status, newest first.
	// Returns the page and the total count for the filter.
	ListJobs(ctx context.Context, queueName string, status Status, page Page) ([]Job, int, error)

	// GetJob fetches a single job by id, including its failure history.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// DeleteJob removes a non-active job. Deleting a missing job is a no-op;
	// deleting an active job returns ErrJobActive.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// ResetJob returns a failed or dead-lettered job to waiting with
	// AttemptsMade reset to zero and the failure history cleared.
	ResetJob(ctx context.Context, id uuid.UUID) error

	// PurgeQueue removes all non-active jobs of the queue matching the
	// category. Reports the count.
	PurgeQueue(ctx context.Context, queueName string, category PurgeCategory) (int, error)
}

// Storage combines every persistence surface of the queue system. Concrete
// implementations: MemoryStore (tests, local development) and pgstore.Store
// (PostgreSQL).
type Storage interface {
	ProducerStore
	EngineStore
	DeadLetterStore
	AdminStore
}
