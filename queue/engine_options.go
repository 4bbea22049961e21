package queue

import (
	"log/slog"
	"time"
)

// EngineOption is a functional option for configuring an Engine
type EngineOption func(*engineOptions)

type engineOptions struct {
	maintenanceInterval time.Duration
	shutdownGrace       time.Duration
	logger              *slog.Logger
}

// WithMaintenanceInterval sets how often the engine runs queue upkeep
// (expired-lease recovery, delayed promotion, retention pruning).
func WithMaintenanceInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.maintenanceInterval = d
		}
	}
}

// WithShutdownGrace sets how long Stop waits for in-flight handlers before
// releasing their leases.
func WithShutdownGrace(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithEngineLogger sets the logger for the engine
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
