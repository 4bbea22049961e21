package queue

import "errors"

// Common errors
var (
	// ErrStorageNil is returned when a nil storage is provided
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrRegistryNil is returned when a nil registry is provided
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrUnknownQueue is returned when the queue name is not registered
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrQueueExists is returned when registering a duplicate queue name
	ErrQueueExists = errors.New("queue already registered")

	// ErrHandlerExists is returned when registering a duplicate handler for a job type
	ErrHandlerExists = errors.New("handler already registered for job type")

	// ErrNoHandlers is returned when an engine is started with no handlers for its queue
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrInvalidPayload is returned when the payload fails handler-declared validation
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNoJobToClaim is returned by storage when no eligible job is available
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrJobNotFound is returned when a job id does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrDeadLetterNotFound is returned when a dead-letter entry id does not exist
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrJobActive is returned on admin operations that are forbidden while a job is leased
	ErrJobActive = errors.New("job is currently active")

	// ErrJobNotRetryable is returned when retrying a job that is not failed or dead-lettered
	ErrJobNotRetryable = errors.New("job is not in a retryable state")

	// ErrInvalidStatus is returned for listing filters with an unknown status
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidPurgeCategory is returned for purge requests with an unknown category
	ErrInvalidPurgeCategory = errors.New("invalid purge category")

	// ErrInvalidSchedule is returned when a schedule expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// ErrTriggerExists is returned when registering a duplicate cron trigger
	ErrTriggerExists = errors.New("trigger already registered")

	// ErrNoTriggers is returned when the scheduler is started with no triggers
	ErrNoTriggers = errors.New("scheduler has no registered triggers")
)

// Failure messages recorded when an attempt is consumed by a lost lease
// rather than a handler error.
const (
	LeaseExpiredMessage  = "lease expired"
	LeaseReleasedMessage = "lease released before completion"
)

// nonRetryableError marks a handler failure as permanent so the engine
// routes the job straight to the dead-letter queue.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err to signal that the failure is permanent and the
// job must not be retried regardless of the remaining attempt budget.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err (or any error it wraps) was marked
// with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
