package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobflow/pkg/httpserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeAddr reserves a localhost port and releases it for the server to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServerRun(t *testing.T) {
	t.Parallel()

	t.Run("serves requests until cancelled", func(t *testing.T) {
		t.Parallel()

		addr := freeAddr(t)
		srv := httpserver.New(
			httpserver.WithAddr(addr),
			httpserver.WithShutdownTimeout(time.Second),
			httpserver.WithLogger(discardLogger()),
		)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "pong")
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx, handler) }()

		var resp *http.Response
		require.Eventually(t, func() bool {
			r, err := http.Get("http://" + addr + "/ping")
			if err != nil {
				return false
			}
			resp = r
			return true
		}, 5*time.Second, 10*time.Millisecond)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, "pong", string(body))

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})

	t.Run("listener failure surfaces as start error", func(t *testing.T) {
		t.Parallel()

		// Hold the port so the server cannot bind it.
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()

		srv := httpserver.New(
			httpserver.WithAddr(l.Addr().String()),
			httpserver.WithLogger(discardLogger()),
		)

		err = srv.Run(context.Background(), nil)
		assert.ErrorIs(t, err, httpserver.ErrStart)
	})

	t.Run("repeated shutdown is safe", func(t *testing.T) {
		t.Parallel()

		srv := httpserver.New(httpserver.WithLogger(discardLogger()))
		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, srv.Shutdown(context.Background()))
	})
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	t.Run("all probes passing", func(t *testing.T) {
		t.Parallel()

		h := httpserver.HealthHandler(discardLogger(),
			httpserver.HealthCheck{Name: "postgres", Probe: func(ctx context.Context) error { return nil }},
			httpserver.HealthCheck{Name: "redis", Probe: func(ctx context.Context) error { return nil }},
		)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "OK", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "ok", body.Checks["redis"])
	})

	t.Run("failing probe reports unavailable", func(t *testing.T) {
		t.Parallel()

		h := httpserver.HealthHandler(discardLogger(),
			httpserver.HealthCheck{Name: "postgres", Probe: func(ctx context.Context) error { return nil }},
			httpserver.HealthCheck{Name: "redis", Probe: func(ctx context.Context) error {
				return errors.New("connection refused")
			}},
		)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})

	t.Run("no probes is healthy", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		httpserver.HealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
