package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobflow/queue"
)

// CountJobs implements queue.AdminStore. Every known status appears in the
// result, zero-valued when the queue holds no such jobs.
func (s *Store) CountJobs(ctx context.Context, queueName string) (map[queue.Status]int, error) {
	counts := map[queue.Status]int{
		queue.StatusWaiting:      0,
		queue.StatusDelayed:      0,
		queue.StatusActive:       0,
		queue.StatusCompleted:    0,
		queue.StatusFailed:       0,
		queue.StatusDeadLettered: 0,
	}

	rows, err := s.db.Query(ctx, `
		SELECT status, count(*) FROM jobs
		WHERE queue = $1
		GROUP BY status`,
		queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status queue.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// ListJobs implements queue.AdminStore. Newest jobs first.
func (s *Store) ListJobs(ctx context.Context, queueName string, status queue.Status, page queue.Page) ([]queue.Job, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE queue = $1 AND status = $2`,
		queueName, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE queue = $1 AND status = $2
		ORDER BY seq DESC
		LIMIT $3 OFFSET $4`,
		queueName, status, page.PerPage, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// GetJob implements queue.AdminStore.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// DeleteJob implements queue.AdminStore.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND status <> 'active'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the job does not exist or it is currently leased.
	var status queue.Status
	err = s.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	case err != nil:
		return fmt.Errorf("delete job %s: %w", id, err)
	case status == queue.StatusActive:
		return fmt.Errorf("%w: %s", queue.ErrJobActive, id)
	}
	return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
}

// ResetJob implements queue.AdminStore.
func (s *Store) ResetJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'waiting',
			attempts_made = 0,
			failures = '[]'::jsonb,
			last_error = NULL,
			progress = NULL,
			delay_until = NULL,
			processed_at = NULL,
			finished_at = NULL
		WHERE id = $1 AND status IN ('failed', 'dead_lettered')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status queue.Status
	err = s.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	case err != nil:
		return fmt.Errorf("reset job %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", queue.ErrJobNotRetryable, id, status)
}

// PurgeQueue implements queue.AdminStore. Active jobs are never removed.
func (s *Store) PurgeQueue(ctx context.Context, queueName string, category queue.PurgeCategory) (int, error) {
	var filter string
	switch category {
	case queue.PurgeCompleted:
		filter = `status = 'completed'`
	case queue.PurgeFailed:
		filter = `status IN ('failed', 'dead_lettered')`
	case queue.PurgeAll:
		filter = `status <> 'active'`
	default:
		return 0, fmt.Errorf("%w: %s", queue.ErrInvalidPurgeCategory, category)
	}

	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs WHERE queue = $1 AND `+filter,
		queueName,
	)
	if err != nil {
		return 0, fmt.Errorf("purge queue %s: %w", queueName, err)
	}
	return int(tag.RowsAffected()), nil
}
