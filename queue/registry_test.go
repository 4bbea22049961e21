package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobflow/queue"
)

func noopHandler(jobType string) queue.Handler {
	return queue.NewJobHandler(jobType, func(ctx context.Context, _ struct{}) error {
		return nil
	})
}

func TestRegistryAddQueue(t *testing.T) {
	t.Parallel()

	t.Run("registers and normalizes config", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		require.NoError(t, r.AddQueue("email", queue.QueueConfig{}))

		cfg, err := r.Config("email")
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Concurrency)
		assert.Equal(t, 3, cfg.MaxAttempts)
		assert.NotNil(t, cfg.Backoff)
		assert.Equal(t, 24*time.Hour, cfg.Retention)
		assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
		assert.Equal(t, time.Second, cfg.PollInterval)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		require.NoError(t, r.AddQueue("email", queue.QueueConfig{}))
		assert.ErrorIs(t, r.AddQueue("email", queue.QueueConfig{}), queue.ErrQueueExists)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		assert.Error(t, r.AddQueue("", queue.QueueConfig{}))
	})

	t.Run("preserves registration order", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry().
			MustAddQueue("email", queue.QueueConfig{}).
			MustAddQueue("files", queue.QueueConfig{}).
			MustAddQueue("reports", queue.QueueConfig{})

		assert.Equal(t, []string{"email", "files", "reports"}, r.Queues())
	})
}

func TestRegistryRegisterHandler(t *testing.T) {
	t.Parallel()

	t.Run("binds handler to queue", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry().MustAddQueue("email", queue.QueueConfig{})
		require.NoError(t, r.RegisterHandler("email", noopHandler("email.send")))

		h, ok := r.Handler("email", "email.send")
		require.True(t, ok)
		assert.Equal(t, "email.send", h.Type())
	})

	t.Run("unknown queue fails", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		err := r.RegisterHandler("nope", noopHandler("email.send"))
		assert.ErrorIs(t, err, queue.ErrUnknownQueue)
	})

	t.Run("duplicate job type fails", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry().MustAddQueue("email", queue.QueueConfig{})
		require.NoError(t, r.RegisterHandler("email", noopHandler("email.send")))
		err := r.RegisterHandler("email", noopHandler("email.send"))
		assert.ErrorIs(t, err, queue.ErrHandlerExists)
	})

	t.Run("registers multiple at once", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry().MustAddQueue("files", queue.QueueConfig{})
		require.NoError(t, r.RegisterHandlers("files",
			noopHandler("file.cleanup"),
			noopHandler("file.quota_reset"),
		))
		assert.Len(t, r.Handlers("files"), 2)
	})
}
