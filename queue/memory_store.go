package queue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Storage on plain maps for tests and local
// development. All transitions happen under one mutex, which trivially
// satisfies the atomic-lease requirement. Upkeep (lease recovery, delayed
// promotion, retention pruning) has no background goroutine of its own; the
// engines drive it through the maintenance methods.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	dlq  map[uuid.UUID]*DeadLetterEntry

	// Insertion-ordered indexes keep listings deterministic.
	jobOrder []uuid.UUID
	dlqOrder []uuid.UUID

	seq uint64
}

// NewMemoryStore creates an empty in-memory storage.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*Job),
		dlq:  make(map[uuid.UUID]*DeadLetterEntry),
	}
}

// CreateJob implements ProducerStore.
func (ms *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.IdempotencyKey != "" {
		if existing := ms.findByKeyLocked(job.Queue, job.IdempotencyKey); existing != nil {
			// The key is already taken; the caller settles on the winning row.
			*job = *cloneJob(existing)
			return nil
		}
	}

	ms.seq++
	stored := cloneJob(job)
	stored.Seq = ms.seq
	ms.jobs[job.ID] = stored
	ms.jobOrder = append(ms.jobOrder, job.ID)

	// Reflect the assigned sequence back to the caller.
	job.Seq = stored.Seq
	return nil
}

// FindByIdempotencyKey implements ProducerStore.
func (ms *MemoryStore) FindByIdempotencyKey(ctx context.Context, queueName, key string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if job := ms.findByKeyLocked(queueName, key); job != nil {
		return cloneJob(job), nil
	}
	return nil, nil
}

func (ms *MemoryStore) findByKeyLocked(queueName, key string) *Job {
	for _, id := range ms.jobOrder {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName || job.IdempotencyKey != key {
			continue
		}
		if !job.Status.Terminal() {
			return job
		}
	}
	return nil
}

// ClaimJob implements EngineStore. The eligible job with the lowest priority
// value wins; the enqueue sequence breaks ties (FIFO).
func (ms *MemoryStore) ClaimJob(ctx context.Context, queueName string, owner uuid.UUID, leaseTTL time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job
	for _, id := range ms.jobOrder {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName || !job.Eligible(now) {
			continue
		}
		if best == nil ||
			job.Priority < best.Priority ||
			(job.Priority == best.Priority && job.Seq < best.Seq) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNoJobToClaim
	}

	leaseExpiry := now.Add(leaseTTL)
	processedAt := now
	best.Status = StatusActive
	best.LeaseOwner = &owner
	best.LeaseExpiresAt = &leaseExpiry
	best.ProcessedAt = &processedAt
	best.DelayUntil = nil

	return cloneJob(best), nil
}

// CompleteJob implements EngineStore.
func (ms *MemoryStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(id)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = StatusCompleted
	job.FinishedAt = &now
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	return nil
}

// FailJob implements EngineStore.
func (ms *MemoryStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.AttemptsMade++
	job.Failures = append(job.Failures, Failure{
		Attempt: job.AttemptsMade,
		Error:   errMsg,
		At:      now,
	})
	job.LastError = &errMsg
	job.Status = StatusFailed
	job.FinishedAt = &now
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil

	return cloneJob(job), nil
}

// RescheduleJob implements EngineStore.
func (ms *MemoryStore) RescheduleJob(ctx context.Context, id uuid.UUID, delayUntil time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != StatusFailed {
		return fmt.Errorf("job %s is not in failed state", id)
	}

	job.Status = StatusDelayed
	job.DelayUntil = &delayUntil
	job.FinishedAt = nil
	return nil
}

// ExtendLease implements EngineStore.
func (ms *MemoryStore) ExtendLease(ctx context.Context, id uuid.UUID, leaseTTL time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(id)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(leaseTTL)
	job.LeaseExpiresAt = &expiry
	return nil
}

// UpdateProgress implements EngineStore.
func (ms *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(id)
	if err != nil {
		return err
	}

	job.Progress = &progress
	return nil
}

// ReleaseJob implements EngineStore. The release counts as a consumed
// attempt, matching lease-expiry semantics.
func (ms *MemoryStore) ReleaseJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(id)
	if err != nil {
		return err
	}

	ms.releaseLocked(job, LeaseReleasedMessage)
	return nil
}

// releaseLocked records a lost lease as a consumed attempt in the failure
// history. With budget left the job returns to waiting; once the budget is
// exhausted it is dead-lettered so a handler that keeps outliving its lease
// cannot be re-leased forever.
func (ms *MemoryStore) releaseLocked(job *Job, reason string) {
	now := time.Now()
	job.AttemptsMade++
	job.Failures = append(job.Failures, Failure{
		Attempt: job.AttemptsMade,
		Error:   reason,
		At:      now,
	})
	job.LastError = &reason
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	job.ProcessedAt = nil

	if job.AttemptsMade >= job.MaxAttempts {
		ms.deadLetterLocked(job, now)
		return
	}
	job.Status = StatusWaiting
}

// RecoverExpiredLeases implements EngineStore.
func (ms *MemoryStore) RecoverExpiredLeases(ctx context.Context, queueName string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	recovered := 0
	for _, id := range ms.jobOrder {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName || job.Status != StatusActive {
			continue
		}
		if job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now) {
			ms.releaseLocked(job, LeaseExpiredMessage)
			recovered++
		}
	}
	return recovered, nil
}

// PromoteDelayed implements EngineStore.
func (ms *MemoryStore) PromoteDelayed(ctx context.Context, queueName string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	promoted := 0
	for _, id := range ms.jobOrder {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName || job.Status != StatusDelayed {
			continue
		}
		if job.DelayUntil == nil || !job.DelayUntil.After(now) {
			job.Status = StatusWaiting
			job.DelayUntil = nil
			promoted++
		}
	}
	return promoted, nil
}

// PruneFinished implements EngineStore. Dead-lettered job records are kept
// until an operator deletes or purges them.
func (ms *MemoryStore) PruneFinished(ctx context.Context, queueName string, retention time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	pruned := 0
	for _, id := range slices.Clone(ms.jobOrder) {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName {
			continue
		}
		if job.Status != StatusCompleted && job.Status != StatusFailed {
			continue
		}
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			ms.deleteLocked(id)
			pruned++
		}
	}
	return pruned, nil
}

// MoveToDeadLetter implements DeadLetterStore.
func (ms *MemoryStore) MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) (*DeadLetterEntry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	entry := ms.deadLetterLocked(job, time.Now())
	return cloneEntry(entry), nil
}

func (ms *MemoryStore) deadLetterLocked(job *Job, now time.Time) *DeadLetterEntry {
	job.Status = StatusDeadLettered
	job.FinishedAt = &now

	entry := &DeadLetterEntry{
		ID:           uuid.New(),
		JobID:        job.ID,
		Queue:        job.Queue,
		Type:         job.Type,
		Payload:      slices.Clone(job.Payload),
		Priority:     job.Priority,
		AttemptsMade: job.AttemptsMade,
		Failures:     slices.Clone(job.Failures),
		MovedAt:      now,
	}
	ms.dlq[entry.ID] = entry
	ms.dlqOrder = append(ms.dlqOrder, entry.ID)
	return entry
}

// GetDeadLetter implements DeadLetterStore.
func (ms *MemoryStore) GetDeadLetter(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.dlq[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return cloneEntry(entry), nil
}

// ListDeadLetters implements DeadLetterStore. Newest entries first.
func (ms *MemoryStore) ListDeadLetters(ctx context.Context, queueName string, page Page) ([]DeadLetterEntry, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	matched := make([]*DeadLetterEntry, 0, len(ms.dlqOrder))
	for i := len(ms.dlqOrder) - 1; i >= 0; i-- {
		entry := ms.dlq[ms.dlqOrder[i]]
		if entry == nil {
			continue
		}
		if queueName != "" && entry.Queue != queueName {
			continue
		}
		matched = append(matched, entry)
	}

	total := len(matched)
	entries := paginate(matched, page)
	out := make([]DeadLetterEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *cloneEntry(e))
	}
	return out, total, nil
}

// CountJobs implements AdminStore.
func (ms *MemoryStore) CountJobs(ctx context.Context, queueName string) (map[Status]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	counts := map[Status]int{
		StatusWaiting:      0,
		StatusDelayed:      0,
		StatusActive:       0,
		StatusCompleted:    0,
		StatusFailed:       0,
		StatusDeadLettered: 0,
	}
	for _, job := range ms.jobs {
		if job.Queue == queueName {
			counts[job.Status]++
		}
	}
	return counts, nil
}

// ListJobs implements AdminStore. Newest jobs first.
func (ms *MemoryStore) ListJobs(ctx context.Context, queueName string, status Status, page Page) ([]Job, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	matched := make([]*Job, 0)
	for _, id := range ms.jobOrder {
		job := ms.jobs[id]
		if job != nil && job.Queue == queueName && job.Status == status {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })

	total := len(matched)
	jobs := paginate(matched, page)
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, *cloneJob(j))
	}
	return out, total, nil
}

// GetJob implements AdminStore.
func (ms *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return cloneJob(job), nil
}

// DeleteJob implements AdminStore.
func (ms *MemoryStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status == StatusActive {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	ms.deleteLocked(id)
	return nil
}

// ResetJob implements AdminStore.
func (ms *MemoryStore) ResetJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != StatusFailed && job.Status != StatusDeadLettered {
		return fmt.Errorf("%w: %s is %s", ErrJobNotRetryable, id, job.Status)
	}

	job.Status = StatusWaiting
	job.AttemptsMade = 0
	job.Failures = nil
	job.LastError = nil
	job.Progress = nil
	job.DelayUntil = nil
	job.ProcessedAt = nil
	job.FinishedAt = nil
	return nil
}

// PurgeQueue implements AdminStore. Active jobs are never removed.
func (ms *MemoryStore) PurgeQueue(ctx context.Context, queueName string, category PurgeCategory) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for _, id := range slices.Clone(ms.jobOrder) {
		job := ms.jobs[id]
		if job == nil || job.Queue != queueName || job.Status == StatusActive {
			continue
		}
		if !purgeMatches(category, job.Status) {
			continue
		}
		ms.deleteLocked(id)
		removed++
	}
	return removed, nil
}

func purgeMatches(category PurgeCategory, status Status) bool {
	switch category {
	case PurgeCompleted:
		return status == StatusCompleted
	case PurgeFailed:
		return status == StatusFailed || status == StatusDeadLettered
	case PurgeAll:
		return true
	}
	return false
}

// Helper methods

// activeJob fetches a job that must be in the active state.
func (ms *MemoryStore) activeJob(id uuid.UUID) (*Job, error) {
	job, ok := ms.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != StatusActive {
		return nil, fmt.Errorf("job %s is not in active state", id)
	}
	return job, nil
}

func (ms *MemoryStore) deleteLocked(id uuid.UUID) {
	delete(ms.jobs, id)
	ms.jobOrder = slices.DeleteFunc(ms.jobOrder, func(other uuid.UUID) bool {
		return other == id
	})
}

func paginate[T any](items []T, page Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return nil
	}
	end := min(start+page.PerPage, len(items))
	return items[start:end]
}

func cloneJob(job *Job) *Job {
	c := *job
	c.Payload = slices.Clone(job.Payload)
	c.Failures = slices.Clone(job.Failures)
	return &c
}

func cloneEntry(entry *DeadLetterEntry) *DeadLetterEntry {
	c := *entry
	c.Payload = slices.Clone(entry.Payload)
	c.Failures = slices.Clone(entry.Failures)
	return &c
}
