package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobflow/queue"
)

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()

	_, err := queue.NewOrchestrator(nil)
	assert.Error(t, err)
}

func TestOrchestratorRun(t *testing.T) {
	t.Parallel()

	t.Run("runs engines until cancelled and processes work", func(t *testing.T) {
		t.Parallel()

		handled := make(chan struct{}, 1)
		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})

		orch, err := queue.NewOrchestrator([]*queue.Engine{f.engine},
			queue.WithOrchestratorLogger(discardLogger()))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- orch.Run(ctx) }()

		_, err = f.producer.Enqueue(context.Background(), "work", "greeting.send", greetingPayload{})
		require.NoError(t, err)

		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrated engine never processed the job")
		}

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrator did not shut down")
		}
	})

	t.Run("stops the scheduler before draining engines", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("report.run", func(ctx context.Context, p greetingPayload) error {
			return nil
		})
		f := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})

		scheduler, err := queue.NewScheduler(f.producer,
			queue.WithCheckInterval(10*time.Millisecond),
			queue.WithSchedulerLogger(discardLogger()))
		require.NoError(t, err)
		require.NoError(t, scheduler.AddTrigger(queue.Trigger{
			Name:     "tick",
			Schedule: queue.EveryInterval(time.Hour),
			Queue:    "work",
			JobType:  "report.run",
		}))

		orch, err := queue.NewOrchestrator([]*queue.Engine{f.engine},
			queue.WithScheduler(scheduler),
			queue.WithOrchestratorLogger(discardLogger()))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- orch.Run(ctx) }()

		// Let everything spin up, then trigger the ordered shutdown.
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrator did not shut down")
		}
	})

	t.Run("failing engine start stops already started engines", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler("greeting.send", func(ctx context.Context, p greetingPayload) error {
			return nil
		})
		good := newEngineFixture(t, queue.QueueConfig{Concurrency: 1}, []queue.Handler{h})

		// An engine with no handlers refuses to start.
		store := queue.NewMemoryStore()
		registry := queue.NewRegistry()
		require.NoError(t, registry.AddQueue("empty", queue.QueueConfig{}))
		dlq, err := queue.NewDeadLetterRouter(store, queue.WithDeadLetterLogger(discardLogger()))
		require.NoError(t, err)
		bad, err := queue.NewEngine(store, registry, "empty", dlq,
			queue.WithEngineLogger(discardLogger()))
		require.NoError(t, err)

		orch, err := queue.NewOrchestrator([]*queue.Engine{good.engine, bad},
			queue.WithOrchestratorLogger(discardLogger()))
		require.NoError(t, err)

		err = orch.Run(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoHandlers)
	})
}
