package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobflow/queue"
)

// MoveToDeadLetter implements queue.DeadLetterStore. The status flip and the
// entry insert happen in one transaction so the entry always reflects the
// job's final failure history.
func (s *Store) MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) (*queue.DeadLetterEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("move to dead letter: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET
			status = 'dead_lettered',
			finished_at = now()
		WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("move to dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}

	entry, err := scanDeadLetter(tx.QueryRow(ctx, `
		INSERT INTO dead_letters (id, job_id, queue, type, payload, priority, attempts_made, failures)
		SELECT $2, id, queue, type, payload, priority, attempts_made, failures
		FROM jobs WHERE id = $1
		RETURNING `+dlqColumns,
		jobID, uuid.New(),
	))
	if err != nil {
		return nil, fmt.Errorf("move to dead letter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("move to dead letter: %w", err)
	}
	return entry, nil
}

// insertDeadLetter copies a job's terminal state into the dead_letters table
// inside the caller's transaction.
func insertDeadLetter(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO dead_letters (id, job_id, queue, type, payload, priority, attempts_made, failures)
		SELECT $2, id, queue, type, payload, priority, attempts_made, failures
		FROM jobs WHERE id = $1`,
		jobID, uuid.New(),
	)
	return err
}

// GetDeadLetter implements queue.DeadLetterStore.
func (s *Store) GetDeadLetter(ctx context.Context, id uuid.UUID) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(s.db.QueryRow(ctx, `
		SELECT `+dlqColumns+` FROM dead_letters WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", queue.ErrDeadLetterNotFound, id)
		}
		return nil, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	return entry, nil
}

// ListDeadLetters implements queue.DeadLetterStore. Newest entries first.
func (s *Store) ListDeadLetters(ctx context.Context, queueName string, page queue.Page) ([]queue.DeadLetterEntry, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM dead_letters
		WHERE ($1 = '' OR queue = $1)`,
		queueName,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dead letters: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+dlqColumns+` FROM dead_letters
		WHERE ($1 = '' OR queue = $1)
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`,
		queueName, page.PerPage, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []queue.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list dead letters: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	return entries, total, nil
}
