package dispatch

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/store"
)

// Heartbeat refreshes a lease's liveness clock. It never transitions
// status; it purely bounds the reaper's definition of liveness, per
// spec.md §4.4.
func (e *Engine) Heartbeat(ctx context.Context, queueID, taskID, workerID string) error {
	for attempt := 0; attempt < e.cfg.MaxCASAttempts; attempt++ {
		t, err := e.store.Tasks().Get(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return newError(KindNotFound, "task %q not found", taskID)
			}
			return newError(KindTransient, "load task: %v", err)
		}
		if t.QueueID != queueID {
			return newError(KindNotFound, "task %q not found in queue %q", taskID, queueID)
		}
		if t.Status != labtask.StatusRunning {
			return newError(KindNotRunning, "task %q is %s", taskID, t.Status)
		}
		if t.WorkerID != workerID {
			return newError(KindNotOwned, "task %q is owned by %q", taskID, t.WorkerID)
		}

		next := t.Clone()
		now := e.clk.Now()
		next.LastHeartbeat = &now
		next.LastModified = now

		err = e.store.Tasks().CompareAndUpdate(ctx, next, t.Etag)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "task %q not found", taskID)
		}
		return newError(KindTransient, "update heartbeat: %v", err)
	}
	return newError(KindConflict, "heartbeat: CAS attempts exhausted for task %q", taskID)
}
