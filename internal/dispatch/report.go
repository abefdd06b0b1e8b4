package dispatch

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/store"
)

// Report applies a worker-reported outcome to the task it leased, per
// spec.md §4.5. Reporting a task the worker does not currently hold
// returns NOT_OWNED and changes nothing.
func (e *Engine) Report(ctx context.Context, queueID, taskID, workerID string, outcome Outcome, summary document.Value) (*labtask.Task, error) {
	if summary.IsNull() {
		summary = document.Object(nil)
	}

	var updated *labtask.Task
	var oldStatus labtask.Status

	for attempt := 0; attempt < e.cfg.MaxCASAttempts; attempt++ {
		t, err := e.store.Tasks().Get(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, newError(KindNotFound, "task %q not found", taskID)
			}
			return nil, newError(KindTransient, "load task: %v", err)
		}
		if t.QueueID != queueID {
			return nil, newError(KindNotFound, "task %q not found in queue %q", taskID, queueID)
		}
		if t.Status != labtask.StatusRunning || t.WorkerID != workerID {
			return nil, newError(KindNotOwned, "task %q is not held by worker %q", taskID, workerID)
		}

		next := t.Clone()
		oldStatus = t.Status
		applyOutcome(next, outcome, summary, e.clk.Now())

		err = e.store.Tasks().CompareAndUpdate(ctx, next, t.Etag)
		if err == nil {
			updated = next
			break
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "task %q not found", taskID)
		}
		return nil, newError(KindTransient, "update task: %v", err)
	}
	if updated == nil {
		return nil, newError(KindConflict, "report: CAS attempts exhausted for task %q", taskID)
	}

	e.bus.Publish(events.Event{
		QueueID:   queueID,
		Entity:    events.EntityTask,
		EntityID:  taskID,
		OldStatus: string(oldStatus),
		NewStatus: string(updated.Status),
		Metadata:  updated.Metadata,
	})

	if outcome != OutcomeCancelled {
		if err := e.applyWorkerOutcome(ctx, queueID, workerID, outcome == OutcomeSuccess, nil); err != nil {
			return updated, err
		}
	}
	return updated, nil
}
