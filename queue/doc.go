// Package queue implements a storage-agnostic job queue with per-queue
// worker pools, retry with backoff, a dead-letter queue, cron triggers, and
// an operator admin surface.
//
// The package is organised around a few cooperating components:
//
//   - Registry          — the fixed set of named queues and handler bindings
//   - Producer          — durably enqueues one-time jobs
//   - Engine            — per-queue worker pool that leases and executes jobs
//   - DeadLetterRouter  — terminal storage for permanently failed jobs
//   - Scheduler         — fires recurring triggers as enqueued jobs
//   - Admin             — read and management operations for operators
//   - Orchestrator      — runs the whole subsystem with ordered shutdown
//
// Components interact only through the storage interfaces in storage.go,
// keeping the execution logic decoupled from persistence. MemoryStore backs
// tests and local development; pgstore.Store backs production deployments
// with PostgreSQL. Any implementation works provided lease acquisition is
// atomic: two workers must never hold a lease on the same job.
//
// # Execution semantics
//
// A job moves along waiting → active → completed, or active → failed →
// delayed (retry with backoff) until the attempt budget is exhausted and it
// is dead-lettered. Leases carry a TTL; a worker that crashes or stalls
// loses its lease and the job becomes re-leasable, which makes execution
// at-least-once. A lost lease consumes an attempt like any other failure,
// so a crash-looping job also ends up dead-lettered once the budget is
// spent. Handlers must be idempotent or self-deduplicating, and
// long-running handlers should call Heartbeat to keep their lease.
//
// # Usage
//
//	registry := queue.NewRegistry()
//	_ = registry.AddQueue("email", queue.QueueConfig{Concurrency: 4})
//	_ = registry.RegisterHandler("email", queue.NewJobHandler("email.send",
//		func(ctx context.Context, p SendEmail) error {
//			return deliver(ctx, p)
//		}))
//
//	store := queue.NewMemoryStore()
//	producer, _ := queue.NewProducer(store, registry)
//	_, _ = producer.Enqueue(ctx, "email", "email.send", SendEmail{To: "a@b.c"},
//		queue.WithDelay(time.Minute))
//
// # Error handling
//
// Package-level sentinel errors (ErrUnknownQueue, ErrInvalidPayload, ...)
// signal contract violations and can be checked with errors.Is. A handler
// marks a permanent failure with NonRetryable to skip the retry budget and
// route the job straight to the dead-letter queue.
package queue
