package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// HealthCheck probes a dependency. The name identifies the dependency in
// logs and the response body.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler returns an http.Handler that runs the given probes and
// reports 200 when all pass, 503 when any fails. The response body lists
// per-probe statuses.
func HealthHandler(logger *slog.Logger, checks ...HealthCheck) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, check := range checks {
			if err := check.Probe(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[check.Name] = err.Error()
				logger.ErrorContext(r.Context(), "health check failed",
					slog.String("check", check.Name),
					slog.Any("error", err))
				continue
			}
			results[check.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	})
}
