package queue

import (
	"fmt"
	"slices"
	"time"
)

// QueueConfig holds the per-queue execution parameters.
type QueueConfig struct {
	// Concurrency is the maximum number of simultaneously active jobs.
	Concurrency int
	// MaxAttempts is the default retry budget for jobs enqueued without an
	// explicit override.
	MaxAttempts int
	// Backoff computes retry delays. DefaultBackoff() when nil.
	Backoff Backoff
	// Retention is how long completed and failed records are kept before
	// they are pruned.
	Retention time.Duration
	// LeaseTTL is how long a worker owns a claimed job before the lease
	// expires and the job becomes re-leasable.
	LeaseTTL time.Duration
	// PollInterval is how often the engine checks for eligible jobs.
	PollInterval time.Duration
}

func (c QueueConfig) normalize() QueueConfig {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Registry is the fixed set of named queues and their handler bindings.
// It is constructed once at startup and passed by reference to producers,
// engines, and the admin layer; queues cannot be added at runtime once
// the engines are running.
type Registry struct {
	queues   map[string]QueueConfig
	handlers map[string]map[string]Handler
	order    []string
}

// NewRegistry creates an empty queue registry.
func NewRegistry() *Registry {
	return &Registry{
		queues:   make(map[string]QueueConfig),
		handlers: make(map[string]map[string]Handler),
	}
}

// AddQueue registers a named queue with its configuration. Queue names are
// globally unique; registering the same name twice is an error.
func (r *Registry) AddQueue(name string, cfg QueueConfig) error {
	if name == "" {
		return fmt.Errorf("%w: empty queue name", ErrUnknownQueue)
	}
	if _, exists := r.queues[name]; exists {
		return fmt.Errorf("%w: %q", ErrQueueExists, name)
	}
	r.queues[name] = cfg.normalize()
	r.handlers[name] = make(map[string]Handler)
	r.order = append(r.order, name)
	return nil
}

// MustAddQueue is AddQueue that panics on error, for static startup wiring.
func (r *Registry) MustAddQueue(name string, cfg QueueConfig) *Registry {
	if err := r.AddQueue(name, cfg); err != nil {
		panic(err)
	}
	return r
}

// RegisterHandler binds a handler to a queue. One handler per job type per
// queue; duplicates and unknown queues fail fast at startup.
func (r *Registry) RegisterHandler(queueName string, h Handler) error {
	if h == nil || h.Type() == "" {
		return fmt.Errorf("%w: nil handler", ErrUnknownJobType)
	}
	hs, ok := r.handlers[queueName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	if _, exists := hs[h.Type()]; exists {
		return fmt.Errorf("%w: %q in queue %q", ErrHandlerExists, h.Type(), queueName)
	}
	hs[h.Type()] = h
	return nil
}

// RegisterHandlers binds multiple handlers to a queue.
func (r *Registry) RegisterHandlers(queueName string, handlers ...Handler) error {
	for _, h := range handlers {
		if err := r.RegisterHandler(queueName, h); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration of a registered queue.
func (r *Registry) Config(queueName string) (QueueConfig, error) {
	cfg, ok := r.queues[queueName]
	if !ok {
		return QueueConfig{}, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	return cfg, nil
}

// Has reports whether the queue name is registered.
func (r *Registry) Has(queueName string) bool {
	_, ok := r.queues[queueName]
	return ok
}

// Handler returns the handler bound to (queue, jobType).
func (r *Registry) Handler(queueName, jobType string) (Handler, bool) {
	hs, ok := r.handlers[queueName]
	if !ok {
		return nil, false
	}
	h, ok := hs[jobType]
	return h, ok
}

// Handlers returns the handler map of a queue, keyed by job type.
func (r *Registry) Handlers(queueName string) map[string]Handler {
	return r.handlers[queueName]
}

// Queues returns the registered queue names in registration order.
func (r *Registry) Queues() []string {
	return slices.Clone(r.order)
}
