package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes jobs of a single type. Implementations are bound to
	// a queue via Registry.RegisterHandler at process startup.
	Handler interface {
		// Type returns the job type this handler serves.
		Type() string
		// Handle runs the job. A nil return completes the job; an error
		// triggers the retry policy unless wrapped with NonRetryable.
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// PayloadValidator is an optional Handler extension. When implemented,
	// the producer validates payloads at enqueue time and rejects bad ones
	// with ErrInvalidPayload instead of deferring to execution time.
	PayloadValidator interface {
		ValidatePayload(payload json.RawMessage) error
	}

	// JobHandlerFunc is the typed function wrapped by NewJobHandler.
	JobHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewJobHandler adapts a typed function into a Handler. The payload is
// unmarshaled into T before the function is invoked; if T implements
// Validatable the payload is also checked at enqueue time.
func NewJobHandler[T any](jobType string, fn JobHandlerFunc[T]) Handler {
	return &jobHandler[T]{jobType: jobType, fn: fn}
}

// Validatable lets a payload type declare its own schema validation.
type Validatable interface {
	Validate() error
}

type jobHandler[T any] struct {
	jobType string
	fn      JobHandlerFunc[T]
}

func (h *jobHandler[T]) Type() string { return h.jobType }

func (h *jobHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			// A payload that cannot be decoded will never decode on retry.
			return NonRetryable(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
	}
	return h.fn(ctx, t)
}

func (h *jobHandler[T]) ValidatePayload(payload json.RawMessage) error {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	v, ok := any(t).(Validatable)
	if !ok {
		// Validate may be declared on the pointer receiver.
		v, ok = any(&t).(Validatable)
	}
	if ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}
