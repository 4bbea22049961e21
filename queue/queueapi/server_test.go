package queueapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobflow/queue"
	"github.com/dmitrymomot/jobflow/queue/queueapi"
)

const testToken = "test-admin-token"

type apiFixture struct {
	store    *queue.MemoryStore
	producer *queue.Producer
	handler  http.Handler
}

type notePayload struct {
	Text string `json:"text"`
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := queue.NewMemoryStore()
	registry := queue.NewRegistry()
	require.NoError(t, registry.AddQueue("email", queue.QueueConfig{MaxAttempts: 3}))
	require.NoError(t, registry.RegisterHandler("email",
		queue.NewJobHandler("email.send", func(ctx context.Context, p notePayload) error {
			return nil
		})))

	producer, err := queue.NewProducer(store, registry, queue.WithProducerLogger(logger))
	require.NoError(t, err)

	dlq, err := queue.NewDeadLetterRouter(store, queue.WithDeadLetterLogger(logger))
	require.NoError(t, err)

	admin, err := queue.NewAdmin(store, registry, dlq, producer, queue.WithAdminLogger(logger))
	require.NoError(t, err)

	server, err := queueapi.NewServer(admin, testToken, queueapi.WithLogger(logger))
	require.NoError(t, err)

	return &apiFixture{store: store, producer: producer, handler: server.Handler()}
}

func (f *apiFixture) request(t *testing.T, method, target string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	_, err := queueapi.NewServer(nil, testToken)
	assert.Error(t, err)

	_, err = queueapi.NewServer(&queue.Admin{}, "")
	assert.ErrorIs(t, err, queueapi.ErrEmptyToken)
}

func TestServerAuth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	t.Run("rejects missing token", func(t *testing.T) {
		t.Parallel()
		rec := f.request(t, http.MethodGet, "/queues", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/queues", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects non-bearer schemes", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/queues", nil)
		req.Header.Set("Authorization", "Basic "+testToken)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("healthz is open", func(t *testing.T) {
		t.Parallel()
		rec := f.request(t, http.MethodGet, "/healthz", false)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServerQueues(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	_, err := f.producer.Enqueue(context.Background(), "email", "email.send", notePayload{Text: "hi"})
	require.NoError(t, err)

	rec := f.request(t, http.MethodGet, "/queues", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queue.QueueStats `json:"queues"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Queues, 1)
	assert.Equal(t, "email", body.Queues[0].Queue)
	assert.Equal(t, 1, body.Queues[0].Total)
}

func TestServerListJobs(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	_, err := f.producer.Enqueue(context.Background(), "email", "email.send", notePayload{Text: "hi"})
	require.NoError(t, err)

	t.Run("lists by status", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/queues/email/jobs?status=waiting", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Items   []queue.Job `json:"items"`
			Total   int         `json:"total"`
			Page    int         `json:"page"`
			PerPage int         `json:"per_page"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, 1, body.Total)
		assert.Equal(t, 1, body.Page)
		assert.Equal(t, 25, body.PerPage)
		require.Len(t, body.Items, 1)
		assert.Equal(t, "email.send", body.Items[0].Type)
	})

	t.Run("requires the status parameter", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/queues/email/jobs", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/queues/email/jobs?status=sleeping", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects bad pagination", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/queues/email/jobs?status=waiting&page=zero", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown queue is 404", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/queues/missing/jobs?status=waiting", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerJobRoutes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("get job", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t)
		id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
		require.NoError(t, err)

		rec := f.request(t, http.MethodGet, "/jobs/"+id.String(), true)
		require.Equal(t, http.StatusOK, rec.Code)

		var job queue.Job
		decodeBody(t, rec, &job)
		assert.Equal(t, id, job.ID)

		rec = f.request(t, http.MethodGet, "/jobs/"+uuid.NewString(), true)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.request(t, http.MethodGet, "/jobs/not-a-uuid", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete job is idempotent", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t)
		id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
		require.NoError(t, err)

		rec := f.request(t, http.MethodDelete, "/jobs/"+id.String(), true)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.request(t, http.MethodDelete, "/jobs/"+id.String(), true)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("delete of an active job conflicts", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t)
		id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
		require.NoError(t, err)
		_, err = f.store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
		require.NoError(t, err)

		rec := f.request(t, http.MethodDelete, "/jobs/"+id.String(), true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("retry failed job", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t)
		id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
		require.NoError(t, err)
		_, err = f.store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
		require.NoError(t, err)
		_, err = f.store.FailJob(ctx, id, "bounce")
		require.NoError(t, err)

		rec := f.request(t, http.MethodPost, "/jobs/"+id.String()+"/retry", true)
		require.Equal(t, http.StatusAccepted, rec.Code)

		job, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusWaiting, job.Status)
	})

	t.Run("retry of a waiting job conflicts", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t)
		id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
		require.NoError(t, err)

		rec := f.request(t, http.MethodPost, "/jobs/"+id.String()+"/retry", true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServerPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newAPIFixture(t)

	id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
	require.NoError(t, err)
	_, err = f.store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteJob(ctx, id))

	t.Run("rejects unknown categories", func(t *testing.T) {
		rec := f.request(t, http.MethodDelete, "/queues/email/jobs?status=everything", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires the status parameter", func(t *testing.T) {
		rec := f.request(t, http.MethodDelete, "/queues/email/jobs", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("purges completed jobs", func(t *testing.T) {
		rec := f.request(t, http.MethodDelete, "/queues/email/jobs?status=completed", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]int
		decodeBody(t, rec, &body)
		assert.Equal(t, 1, body["removed"])
	})
}

func TestServerDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newAPIFixture(t)

	id, err := f.producer.Enqueue(ctx, "email", "email.send", notePayload{Text: "hi"})
	require.NoError(t, err)
	_, err = f.store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
	require.NoError(t, err)
	_, err = f.store.FailJob(ctx, id, "bounce")
	require.NoError(t, err)
	entry, err := f.store.MoveToDeadLetter(ctx, id)
	require.NoError(t, err)

	t.Run("lists entries", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/deadletters?queue=email", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Items []queue.DeadLetterEntry `json:"items"`
			Total int                     `json:"total"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, 1, body.Total)
		require.Len(t, body.Items, 1)
		assert.Equal(t, id, body.Items[0].JobID)
	})

	t.Run("replay enqueues a fresh job", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/deadletters/"+entry.ID.String()+"/replay", true)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		newID, err := uuid.Parse(body["job_id"])
		require.NoError(t, err)

		job, err := f.store.GetJob(ctx, newID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusWaiting, job.Status)
	})

	t.Run("replay of a missing entry is 404", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/deadletters/"+uuid.NewString()+"/replay", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
