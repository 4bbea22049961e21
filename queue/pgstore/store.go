// Package pgstore implements queue.Storage on PostgreSQL using pgx.
//
// Claims rely on FOR UPDATE SKIP LOCKED so concurrent workers never lease
// the same job. All other transitions are single guarded UPDATE statements,
// so the row-level lock taken by the claim is the only coordination needed.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/jobflow/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS exposes the embedded schema migrations for pg.Migrate.
func MigrationsFS() embed.FS { return migrationsFS }

// MigrationsDir is the path of the migration files inside MigrationsFS.
const MigrationsDir = "migrations"

// DB is the subset of pgxpool.Pool the store uses. Satisfied by
// *pgxpool.Pool and by pgx.Tx, which keeps the store testable.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements queue.Storage on PostgreSQL.
type Store struct {
	db DB
}

var _ queue.Storage = (*Store)(nil)

// New returns a Store backed by db.
func New(db DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, queue, type, payload, status, priority, attempts_made, max_attempts,
	COALESCE(idempotency_key, ''), seq, delay_until, lease_owner, lease_expires_at,
	processed_at, finished_at, last_error, progress, failures, created_at`

// row is satisfied by both pgx.Row and pgx.Rows.
type row interface {
	Scan(dest ...any) error
}

func scanJob(r row) (*queue.Job, error) {
	var (
		j        queue.Job
		failures []byte
	)
	if err := r.Scan(
		&j.ID, &j.Queue, &j.Type, &j.Payload, &j.Status, &j.Priority,
		&j.AttemptsMade, &j.MaxAttempts, &j.IdempotencyKey, &j.Seq,
		&j.DelayUntil, &j.LeaseOwner, &j.LeaseExpiresAt,
		&j.ProcessedAt, &j.FinishedAt, &j.LastError, &j.Progress,
		&failures, &j.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &j.Failures); err != nil {
			return nil, fmt.Errorf("decode failure history: %w", err)
		}
	}
	return &j, nil
}

const dlqColumns = `id, job_id, queue, type, payload, priority, attempts_made, failures, moved_at`

func scanDeadLetter(r row) (*queue.DeadLetterEntry, error) {
	var (
		e        queue.DeadLetterEntry
		failures []byte
	)
	if err := r.Scan(
		&e.ID, &e.JobID, &e.Queue, &e.Type, &e.Payload,
		&e.Priority, &e.AttemptsMade, &failures, &e.MovedAt,
	); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &e.Failures); err != nil {
			return nil, fmt.Errorf("decode failure history: %w", err)
		}
	}
	return &e, nil
}
