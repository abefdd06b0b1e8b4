package dispatch

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/store"
)

// applyWorkerOutcome updates a worker's consecutive-failure bookkeeping
// after a task outcome, per spec.md §4.5. If forceStatus is non-nil it is
// applied after the counter logic, used by the reaper to mark CRASHED on
// heartbeat expiry regardless of the counter threshold.
func (e *Engine) applyWorkerOutcome(ctx context.Context, queueID, workerID string, success bool, forceStatus *labworker.Status) error {
	for attempt := 0; attempt < e.cfg.MaxCASAttempts; attempt++ {
		w, err := e.store.Workers().Get(ctx, workerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// The worker no longer exists; the task-side report still
				// stands, there is simply no bookkeeping left to do.
				return nil
			}
			return newError(KindTransient, "load worker: %v", err)
		}
		if w.QueueID != queueID {
			return nil
		}

		next := w.Clone()
		oldStatus := w.Status
		if success {
			next.RecordSuccess()
		} else {
			next.RecordFailure()
		}
		if forceStatus != nil {
			next.Status = *forceStatus
		}
		next.LastModified = e.clk.Now()

		err = e.store.Workers().CompareAndUpdate(ctx, next, w.Etag)
		if err == nil {
			if next.Status != oldStatus {
				e.bus.Publish(events.Event{
					QueueID:   queueID,
					Entity:    events.EntityWorker,
					EntityID:  workerID,
					OldStatus: string(oldStatus),
					NewStatus: string(next.Status),
				})
			}
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return newError(KindTransient, "update worker: %v", err)
	}
	return newError(KindConflict, "worker outcome: CAS attempts exhausted for worker %q", workerID)
}
