package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusDelayed      Status = "delayed"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Valid reports whether s is one of the known job statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusDelayed, StatusActive, StatusCompleted, StatusFailed, StatusDeadLettered:
		return true
	}
	return false
}

// Terminal reports whether a job in this status can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Priority orders jobs within a queue. Lower values run first; ties are
// broken by enqueue order.
type Priority int

const (
	PriorityHigh    Priority = 0
	PriorityDefault Priority = 50
	PriorityLow     Priority = 100
)

// Failure records a single failed execution attempt.
type Failure struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Job is one unit of enqueued work.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Queue          string          `json:"queue"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	Priority       Priority        `json:"priority"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	// Seq is a storage-assigned monotonic sequence used as the FIFO
	// tie-break between jobs of equal priority.
	Seq            uint64     `json:"seq"`
	DelayUntil     *time.Time `json:"delay_until,omitempty"`
	LeaseOwner     *uuid.UUID `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	Progress       *int       `json:"progress,omitempty"`
	Failures       []Failure  `json:"failures,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Eligible reports whether the job can be leased at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	switch j.Status {
	case StatusWaiting:
		return true
	case StatusDelayed:
		return j.DelayUntil == nil || !j.DelayUntil.After(now)
	}
	return false
}

// DeadLetterEntry is the immutable record of a permanently failed job.
// Replaying an entry enqueues a fresh job; the entry itself is never edited.
type DeadLetterEntry struct {
	ID           uuid.UUID       `json:"id"`
	JobID        uuid.UUID       `json:"job_id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     Priority        `json:"priority"`
	AttemptsMade int             `json:"attempts_made"`
	Failures     []Failure       `json:"failures"`
	MovedAt      time.Time       `json:"moved_at"`
}

// Page describes a pagination window for listing operations.
type Page struct {
	Number  int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 25
	}
	if p.PerPage > 500 {
		p.PerPage = 500
	}
	return p
}

// Offset returns the number of records to skip for this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// PurgeCategory selects which finished jobs a queue purge removes.
type PurgeCategory string

const (
	PurgeCompleted PurgeCategory = "completed"
	PurgeFailed    PurgeCategory = "failed"
	PurgeAll       PurgeCategory = "all"
)

// Valid reports whether c is a known purge category.
func (c PurgeCategory) Valid() bool {
	return c == PurgeCompleted || c == PurgeFailed || c == PurgeAll
}
