package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type jobControlKey struct{}

// jobControl ties a running handler back to its engine so long-running
// handlers can refresh their lease and report progress.
type jobControl struct {
	engine *Engine
	jobID  uuid.UUID
}

func withJobControl(ctx context.Context, e *Engine, jobID uuid.UUID) context.Context {
	return context.WithValue(ctx, jobControlKey{}, &jobControl{engine: e, jobID: jobID})
}

// ErrNoJobContext is returned by Heartbeat and ReportProgress when called
// outside a handler invocation.
var ErrNoJobContext = errors.New("context carries no job control")

// Heartbeat refreshes the lease of the job currently being handled.
// Handlers running longer than the queue's lease TTL must call it
// periodically or the job becomes re-leasable by another worker.
func Heartbeat(ctx context.Context) error {
	jc, ok := ctx.Value(jobControlKey{}).(*jobControl)
	if !ok {
		return ErrNoJobContext
	}
	return jc.engine.heartbeat(ctx, jc.jobID)
}

// ReportProgress records a progress value (conventionally 0-100) on the job
// currently being handled. Purely informational; surfaced by the admin API.
func ReportProgress(ctx context.Context, progress int) error {
	jc, ok := ctx.Value(jobControlKey{}).(*jobControl)
	if !ok {
		return ErrNoJobContext
	}
	return jc.engine.reportProgress(ctx, jc.jobID, progress)
}

// JobID returns the id of the job currently being handled, if any.
func JobID(ctx context.Context) (uuid.UUID, bool) {
	jc, ok := ctx.Value(jobControlKey{}).(*jobControl)
	if !ok {
		return uuid.Nil, false
	}
	return jc.jobID, true
}
