package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/store"
)

// ReaperResult summarizes one sweep, for logging and metrics.
type ReaperResult struct {
	Scanned            int
	HeartbeatExpired   int
	TaskTimeoutExpired int
}

// Sweep scans every RUNNING task and expires leases whose heartbeat or
// task timeout has elapsed, per spec.md §4.6. It is idempotent across
// concurrent invocations: every mutation is CAS'd on etag, so a task
// already reaped (or reported) by a racing sweep is simply skipped.
func (e *Engine) Sweep(ctx context.Context) (ReaperResult, error) {
	running, err := e.store.Tasks().ListRunning(ctx)
	if err != nil {
		return ReaperResult{}, newError(KindTransient, "list running tasks: %v", err)
	}

	var result ReaperResult
	now := e.clk.Now()
	for _, t := range running {
		result.Scanned++

		heartbeatExpired := t.LastHeartbeat != nil &&
			now.Sub(*t.LastHeartbeat) > time.Duration(t.HeartbeatTimeout)*time.Second
		taskTimedOut := t.TaskTimeout != nil && t.StartTime != nil &&
			now.Sub(*t.StartTime) > time.Duration(*t.TaskTimeout)*time.Second

		if !heartbeatExpired && !taskTimedOut {
			continue
		}

		queueID, workerID := t.QueueID, t.WorkerID
		if err := e.expireLease(ctx, t.ID, now); err != nil {
			if kind, ok := KindOf(err); ok && (kind == KindConflict || kind == KindNotFound) {
				continue // raced with a report or another reaper sweep
			}
			return result, err
		}

		if heartbeatExpired {
			result.HeartbeatExpired++
			crashed := labworker.StatusCrashed
			if err := e.applyWorkerOutcome(ctx, queueID, workerID, false, &crashed); err != nil {
				return result, err
			}
		} else if taskTimedOut {
			result.TaskTimeoutExpired++
			// The worker is alive; only the task blew its wall-clock
			// budget, so its consecutive-failure counter is untouched.
		}
	}
	return result, nil
}

// expireLease applies the §4.5 "failed" effects to a single RUNNING task
// whose lease has expired, exactly as if the owning worker had reported
// failed. It publishes the task transition event on success.
func (e *Engine) expireLease(ctx context.Context, taskID string, now time.Time) error {
	t, err := e.store.Tasks().Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "task %q not found", taskID)
		}
		return newError(KindTransient, "load task: %v", err)
	}
	if t.Status != labtask.StatusRunning {
		return newError(KindConflict, "task %q no longer running", taskID)
	}

	next := t.Clone()
	oldStatus := t.Status
	applyOutcome(next, OutcomeFailed, document.Object(map[string]document.Value{
		"error": document.String("lease expired"),
	}), now)

	err = e.store.Tasks().CompareAndUpdate(ctx, next, t.Etag)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return newError(KindConflict, "task %q CAS conflict", taskID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "task %q not found", taskID)
		}
		return newError(KindTransient, "update task: %v", err)
	}

	e.bus.Publish(events.Event{
		QueueID:   t.QueueID,
		Entity:    events.EntityTask,
		EntityID:  t.ID,
		OldStatus: string(oldStatus),
		NewStatus: string(next.Status),
		Metadata:  next.Metadata,
	})
	return nil
}
