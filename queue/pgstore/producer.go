package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/jobflow/queue"
)

// CreateJob implements queue.ProducerStore. When two producers race on the
// same idempotency key, the loser settles on the winner's row: the stored
// job is read back and copied into job, so callers observe a single job id.
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return queue.ErrPayloadNil
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, queue, type, payload, status, priority, attempts_made,
			max_attempts, idempotency_key, delay_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING seq`,
		job.ID, job.Queue, job.Type, job.Payload, job.Status, job.Priority,
		job.AttemptsMade, job.MaxAttempts, job.IdempotencyKey, job.DelayUntil,
		job.CreatedAt,
	).Scan(&job.Seq)
	if err == nil {
		return nil
	}

	if isDuplicateKey(err) && job.IdempotencyKey != "" {
		existing, ferr := s.FindByIdempotencyKey(ctx, job.Queue, job.IdempotencyKey)
		if ferr != nil {
			return fmt.Errorf("create job: %w", ferr)
		}
		if existing != nil {
			*job = *existing
			return nil
		}
	}
	return fmt.Errorf("create job: %w", err)
}

// FindByIdempotencyKey implements queue.ProducerStore.
func (s *Store) FindByIdempotencyKey(ctx context.Context, queueName, key string) (*queue.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1 AND idempotency_key = $2
		  AND status NOT IN ('completed', 'dead_lettered')
		LIMIT 1`,
		queueName, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return job, nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
