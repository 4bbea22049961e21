package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobflow/queue"
)

// ClaimJob implements queue.EngineStore. The inner SELECT takes a row lock
// with SKIP LOCKED so concurrent claimers pick disjoint jobs; the eligible
// job with the lowest priority value wins, ties broken by enqueue order.
func (s *Store) ClaimJob(ctx context.Context, queueName string, owner uuid.UUID, leaseTTL time.Duration) (*queue.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'active',
			lease_owner = $2,
			lease_expires_at = $3,
			processed_at = now(),
			delay_until = NULL
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND (status = 'waiting'
			       OR (status = 'delayed' AND (delay_until IS NULL OR delay_until <= now())))
			ORDER BY priority, seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queueName, owner, time.Now().Add(leaseTTL),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob implements queue.EngineStore.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed',
			finished_at = now(),
			lease_owner = NULL,
			lease_expires_at = NULL
		WHERE id = $1 AND status = 'active'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return nil
}

// FailJob implements queue.EngineStore. The failed attempt is appended to the
// JSONB failure history in the same statement that increments attempts_made,
// so history and counter can never diverge.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) (*queue.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'failed',
			attempts_made = attempts_made + 1,
			last_error = $2,
			finished_at = now(),
			lease_owner = NULL,
			lease_expires_at = NULL,
			failures = failures || jsonb_build_object(
				'attempt', attempts_made + 1,
				'error', $2::text,
				'at', now())
		WHERE id = $1 AND status = 'active'
		RETURNING `+jobColumns,
		id, errMsg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("fail job %s: %w", id, err)
	}
	return job, nil
}

// RescheduleJob implements queue.EngineStore.
func (s *Store) RescheduleJob(ctx context.Context, id uuid.UUID, delayUntil time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'delayed',
			delay_until = $2,
			finished_at = NULL
		WHERE id = $1 AND status = 'failed'`,
		id, delayUntil,
	)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return nil
}

// ExtendLease implements queue.EngineStore.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, leaseTTL time.Duration) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = $2
		WHERE id = $1 AND status = 'active'`,
		id, time.Now().Add(leaseTTL),
	)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return nil
}

// UpdateProgress implements queue.EngineStore.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET progress = $2
		WHERE id = $1 AND status = 'active'`,
		id, progress,
	)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return nil
}

// leaseLostSet is the shared UPDATE body for lease-loss transitions. The lost
// lease consumes an attempt and is appended to the JSONB failure history in
// the same statement; a job with budget left returns to waiting, an exhausted
// one lands in dead_lettered. $2 is the recorded failure message.
const leaseLostSet = `
		status = CASE WHEN attempts_made + 1 >= max_attempts
			THEN 'dead_lettered' ELSE 'waiting' END,
		finished_at = CASE WHEN attempts_made + 1 >= max_attempts
			THEN now() ELSE NULL END,
		attempts_made = attempts_made + 1,
		last_error = $2,
		failures = failures || jsonb_build_object(
			'attempt', attempts_made + 1,
			'error', $2::text,
			'at', now()),
		lease_owner = NULL,
		lease_expires_at = NULL,
		processed_at = NULL`

// ReleaseJob implements queue.EngineStore. The release counts as a consumed
// attempt, matching lease-expiry semantics; releasing the final attempt
// dead-letters the job.
func (s *Store) ReleaseJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET`+leaseLostSet+`
		WHERE id = $1 AND status = 'active'
		RETURNING status`,
		id, queue.LeaseReleasedMessage,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
		}
		return fmt.Errorf("release job %s: %w", id, err)
	}

	if status == string(queue.StatusDeadLettered) {
		if err := insertDeadLetter(ctx, tx, id); err != nil {
			return fmt.Errorf("release job %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	return nil
}

// RecoverExpiredLeases implements queue.EngineStore. Recovered jobs whose
// budget is spent get their dead-letter entries written in the same
// transaction as the status flip.
func (s *Store) RecoverExpiredLeases(ctx context.Context, queueName string) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE jobs SET`+leaseLostSet+`
		WHERE queue = $1 AND status = 'active' AND lease_expires_at < now()
		RETURNING id, status`,
		queueName, queue.LeaseExpiredMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}

	recovered := 0
	var exhausted []uuid.UUID
	for rows.Next() {
		var (
			id     uuid.UUID
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("recover expired leases: %w", err)
		}
		recovered++
		if status == string(queue.StatusDeadLettered) {
			exhausted = append(exhausted, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}

	for _, id := range exhausted {
		if err := insertDeadLetter(ctx, tx, id); err != nil {
			return 0, fmt.Errorf("recover expired leases: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	return recovered, nil
}

// PromoteDelayed implements queue.EngineStore.
func (s *Store) PromoteDelayed(ctx context.Context, queueName string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'waiting',
			delay_until = NULL
		WHERE queue = $1 AND status = 'delayed'
		  AND (delay_until IS NULL OR delay_until <= now())`,
		queueName,
	)
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PruneFinished implements queue.EngineStore. Dead-lettered job records are
// kept until an operator deletes or purges them.
func (s *Store) PruneFinished(ctx context.Context, queueName string, retention time.Duration) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs
		WHERE queue = $1 AND status IN ('completed', 'failed') AND finished_at < $2`,
		queueName, time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("prune finished: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
