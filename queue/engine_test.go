package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobflow/queue"
)

type engineFixture struct {
	store    *queue.MemoryStore
	registry *queue.Registry
	producer *queue.Producer
	dlq      *queue.DeadLetterRouter
	engine   *queue.Engine
}

// newEngineFixture wires a single-queue engine over the in-memory store with
// fast polling so tests converge quickly.
func newEngineFixture(t *testing.T, cfg queue.QueueConfig, handlers []queue.Handler, opts ...queue.EngineOption) *engineFixture {
	t.Helper()

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = time.Minute
	}

	store := queue.NewMemoryStore()
	registry := queue.NewRegistry()
	require.NoError(t, registry.AddQueue("work", cfg))
	require.NoError(t, registry.RegisterHandlers("work", handlers...))

	dlq, err := queue.NewDeadLetterRouter(store, queue.WithDeadLetterLogger(discardLogger()))
	require.NoError(t, err)

	producer, err := queue.NewProducer(store, registry, queue.WithProducerLogger(discardLogger()))
	require.NoError(t, err)

	engineOpts := append([]queue.EngineOption{
		queue.WithMaintenanceInterval(time.Hour),
		queue.WithShutdownGrace(200 * time.Millisecond),
		queue.WithEngineLogger(discardLogger()),
	}, opts...)
	engine, err := queue.NewEngine(store, registry, "work", dlq, engineOpts...)
	require.NoError(t, err)

	return &engineFixture{
		store:    store,
		registry: registry,
		producer: producer,
		dlq:      dlq,
		engine:   engine,
	}
}

func (f *engineFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop() })
}

func (f *engineFixture) waitForStatus(t *testing.T, id uuid.UUID, want queue.Status) *queue.Job {
	t.Helper()

	var job *queue.Job
	require.Eventually(t, func() bool {
		got, err := f.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestEngineExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("completes successful jobs", func(t *testing.T) {
		t.Parallel()

		handled := make(chan greetingPayload, 1)
		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			handled <- p
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 2}, []queue.Handler{h})
		f.start(t)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "alice"})
		require.NoError(t, err)

		select {
		case p := <-handled:
			assert.Equal(t, "alice", p.Name)
		case <-time.After(5 * time.Second):
			t.Fatal("handler was never invoked")
		}

		job := f.waitForStatus(t, id, queue.StatusCompleted)
		assert.NotNil(t, job.FinishedAt)
		assert.Nil(t, job.LeaseOwner)
	})

	t.Run("retries until attempts are exhausted then dead-letters", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			return errors.New("smtp unavailable")
		})
		cfg := queue.QueueConfig{
			Concurrency: 1,
			MaxAttempts: 2,
			Backoff:     queue.FixedBackoff{Every: 10 * time.Millisecond},
		}
		f := newEngineFixture(t, cfg, []queue.Handler{h})
		f.start(t)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "bob"})
		require.NoError(t, err)

		job := f.waitForStatus(t, id, queue.StatusDeadLettered)
		assert.Equal(t, 2, job.AttemptsMade)
		require.Len(t, job.Failures, 2)
		assert.Equal(t, 1, job.Failures[0].Attempt)
		assert.Equal(t, 2, job.Failures[1].Attempt)
		assert.Equal(t, "smtp unavailable", job.Failures[0].Error)

		entries, total, err := f.dlq.List(ctx, "work", queue.Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].JobID)
		assert.Len(t, entries[0].Failures, 2)
	})

	t.Run("non-retryable errors skip remaining attempts", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			return queue.NonRetryable(errors.New("recipient does not exist"))
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1, MaxAttempts: 5}, []queue.Handler{h})
		f.start(t)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "carol"})
		require.NoError(t, err)

		job := f.waitForStatus(t, id, queue.StatusDeadLettered)
		assert.Equal(t, 1, job.AttemptsMade)
		require.Len(t, job.Failures, 1)
	})

	t.Run("panicking handlers count as failed attempts", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			panic("nil map write")
		})
		cfg := queue.QueueConfig{
			Concurrency: 1,
			MaxAttempts: 1,
		}
		f := newEngineFixture(t, cfg, []queue.Handler{h})
		f.start(t)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "dave"})
		require.NoError(t, err)

		job := f.waitForStatus(t, id, queue.StatusDeadLettered)
		require.Len(t, job.Failures, 1)
		assert.Contains(t, job.Failures[0].Error, "panic in handler")
	})

	t.Run("jobs without a handler go straight to the dead letter queue", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})

		// Bypass the producer: it rejects unknown job types at enqueue time,
		// but jobs can outlive the handler set that produced them.
		orphan := seedJob(t, f.store, "work", queue.PriorityDefault)
		_, err := f.store.GetJob(ctx, orphan.ID)
		require.NoError(t, err)

		f.start(t)

		f.waitForStatus(t, orphan.ID, queue.StatusDeadLettered)
	})
}

func TestEngineConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	release := make(chan struct{})
	var active, peak atomic.Int32
	h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			prev := peak.Load()
			if n <= prev || peak.CompareAndSwap(prev, n) {
				break
			}
		}
		<-release
		return nil
	})

	f := newEngineFixture(t, queue.QueueConfig{Concurrency: 2}, []queue.Handler{h})
	f.start(t)

	ids := make([]uuid.UUID, 0, 5)
	for range 5 {
		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "worker"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		return active.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)

	// Give the poll loop a few more ticks to try to overshoot the cap.
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(2))

	close(release)
	for _, id := range ids {
		f.waitForStatus(t, id, queue.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngineShutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("waits for in-flight jobs within the grace period", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h},
			queue.WithShutdownGrace(2*time.Second))
		f.start(t)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{})
		require.NoError(t, err)

		<-started
		require.NoError(t, f.engine.Stop())

		job, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, job.Status)
	})

	t.Run("releases leases of jobs that outlive the grace period", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		block := make(chan struct{})
		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			close(started)
			<-block
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h},
			queue.WithShutdownGrace(20*time.Millisecond))
		f.start(t)
		defer close(block)

		id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{})
		require.NoError(t, err)

		<-started
		require.NoError(t, f.engine.Stop())

		job, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusWaiting, job.Status)
		assert.Equal(t, 1, job.AttemptsMade)
		assert.Nil(t, job.LeaseOwner)
		require.Len(t, job.Failures, 1)
		assert.Equal(t, queue.LeaseReleasedMessage, job.Failures[0].Error)
	})

	t.Run("stop before start fails", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})
		assert.Error(t, f.engine.Stop())
	})
}

func TestEngineLeaseRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The handler never returns, so every lease expires and maintenance has
	// to recover the job. Once the budget is spent the job must land in the
	// dead letter queue instead of cycling back to waiting.
	block := make(chan struct{})
	defer close(block)
	h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
		<-block
		return nil
	})
	cfg := queue.QueueConfig{
		Concurrency: 3,
		MaxAttempts: 2,
		LeaseTTL:    30 * time.Millisecond,
	}
	f := newEngineFixture(t, cfg, []queue.Handler{h},
		queue.WithMaintenanceInterval(10*time.Millisecond))
	f.start(t)

	id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "stuck"})
	require.NoError(t, err)

	job := f.waitForStatus(t, id, queue.StatusDeadLettered)
	assert.Equal(t, 2, job.AttemptsMade)
	require.Len(t, job.Failures, 2)
	for i, failure := range job.Failures {
		assert.Equal(t, i+1, failure.Attempt)
		assert.Equal(t, queue.LeaseExpiredMessage, failure.Error)
	}

	entries, total, err := f.dlq.List(ctx, "work", queue.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].JobID)
}

func TestEngineJobControl(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	progressed := make(chan error, 1)
	heartbeats := make(chan error, 1)
	h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
		id, ok := queue.JobID(ctx)
		if !ok || id == uuid.Nil {
			return errors.New("handler context carries no job id")
		}
		progressed <- queue.ReportProgress(ctx, 50)
		heartbeats <- queue.Heartbeat(ctx)
		return nil
	})

	f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})
	f.start(t)

	id, err := f.producer.Enqueue(ctx, "work", "greeting.send", greetingPayload{Name: "eve"})
	require.NoError(t, err)

	require.NoError(t, <-progressed)
	require.NoError(t, <-heartbeats)

	job := f.waitForStatus(t, id, queue.StatusCompleted)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 50, *job.Progress)

	// Outside a handler invocation the helpers report the missing control.
	assert.ErrorIs(t, queue.Heartbeat(ctx), queue.ErrNoJobContext)
	assert.ErrorIs(t, queue.ReportProgress(ctx, 10), queue.ErrNoJobContext)
}
