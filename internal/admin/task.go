package admin

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

// SubmitTaskRequest holds the fields a client may set on submit-task.
// Pointer fields are optional and fall back to labtask.New's defaults.
type SubmitTaskRequest struct {
	TaskName         string
	Args             document.Value
	Metadata         document.Value
	Cmd              string
	Priority         *int
	MaxRetries       *int
	HeartbeatTimeout *int
	TaskTimeout      *int
}

// SubmitTask validates queueID exists and inserts a new PENDING task.
func (a *Admin) SubmitTask(ctx context.Context, queueID string, req SubmitTaskRequest) (*labtask.Task, error) {
	if _, err := a.GetQueueByID(ctx, queueID); err != nil {
		return nil, err
	}
	now := a.engine.Clock().Now()
	t := labtask.New(newID(), queueID, req.Args, req.Metadata, now)
	t.TaskName = req.TaskName
	t.Cmd = req.Cmd
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		t.MaxRetries = *req.MaxRetries
	}
	if req.HeartbeatTimeout != nil {
		t.HeartbeatTimeout = *req.HeartbeatTimeout
	}
	if req.TaskTimeout != nil {
		t.TaskTimeout = req.TaskTimeout
	}
	if err := a.engine.Store().Tasks().Insert(ctx, t); err != nil {
		return nil, newError(dispatch.KindTransient, "submit task: %v", err)
	}
	a.engine.Bus().Publish(events.Event{
		QueueID: queueID, Entity: events.EntityTask, EntityID: t.ID,
		NewStatus: string(labtask.StatusPending),
	})
	return t, nil
}

// GetTask fetches a task scoped to queueID.
func (a *Admin) GetTask(ctx context.Context, queueID, taskID string) (*labtask.Task, error) {
	t, err := a.engine.Store().Tasks().Get(ctx, taskID)
	if err != nil {
		return nil, wrapNotFound(err, "task %q not found", taskID)
	}
	if t.QueueID != queueID {
		return nil, newError(dispatch.KindNotFound, "task %q not found in queue %q", taskID, queueID)
	}
	return t, nil
}

// TaskUpdate carries the optional fields of an admin task update. Which
// fields are actually applied depends on the task's current status, per
// spec.md §4.7: PENDING (and non-terminal FAILED) accepts everything;
// RUNNING accepts only Metadata/Priority/MaxRetries; a terminal task
// accepts only Metadata.
type TaskUpdate struct {
	TaskName         *string
	Args             *document.Value
	Metadata         *document.Value
	Cmd              *string
	Priority         *int
	MaxRetries       *int
	HeartbeatTimeout *int
	TaskTimeout      **int
}

// UpdateTask applies a CAS-guarded partial update, rejecting fields the
// task's current status does not allow.
func (a *Admin) UpdateTask(ctx context.Context, queueID, taskID string, upd TaskUpdate) (*labtask.Task, error) {
	for attempt := 0; attempt < a.engine.Config().MaxCASAttempts; attempt++ {
		t, err := a.GetTask(ctx, queueID, taskID)
		if err != nil {
			return nil, err
		}
		next := t.Clone()
		if err := applyTaskUpdate(next, upd); err != nil {
			return nil, err
		}
		next.LastModified = a.engine.Clock().Now()
		err = a.engine.Store().Tasks().CompareAndUpdate(ctx, next, t.Etag)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, wrapNotFound(err, "task %q not found", taskID)
	}
	return nil, newError(dispatch.KindConflict, "update task: CAS attempts exhausted for %q", taskID)
}

func applyTaskUpdate(t *labtask.Task, upd TaskUpdate) error {
	terminal := t.IsTerminal()
	running := t.Status == labtask.StatusRunning

	restricted := func(name string) error {
		return newError(dispatch.KindInvalidArgument, "field %q cannot be changed while task is %s", name, t.Status)
	}

	if upd.Metadata != nil {
		t.Metadata = *upd.Metadata
	}
	if upd.Priority != nil {
		if terminal {
			return restricted("priority")
		}
		t.Priority = *upd.Priority
	}
	if upd.MaxRetries != nil {
		if terminal {
			return restricted("max_retries")
		}
		t.MaxRetries = *upd.MaxRetries
	}
	if upd.TaskName != nil {
		if terminal || running {
			return restricted("task_name")
		}
		t.TaskName = *upd.TaskName
	}
	if upd.Args != nil {
		if terminal || running {
			return restricted("args")
		}
		t.Args = *upd.Args
	}
	if upd.Cmd != nil {
		if terminal || running {
			return restricted("cmd")
		}
		t.Cmd = *upd.Cmd
	}
	if upd.HeartbeatTimeout != nil {
		if terminal || running {
			return restricted("heartbeat_timeout")
		}
		t.HeartbeatTimeout = *upd.HeartbeatTimeout
	}
	if upd.TaskTimeout != nil {
		if terminal || running {
			return restricted("task_timeout")
		}
		t.TaskTimeout = *upd.TaskTimeout
	}
	return nil
}

// CancelTask requests cancellation. If the task has already reached a
// terminal state the cancel is a no-op that returns the observed state,
// per spec.md §5.
func (a *Admin) CancelTask(ctx context.Context, queueID, taskID string) (*labtask.Task, error) {
	for attempt := 0; attempt < a.engine.Config().MaxCASAttempts; attempt++ {
		t, err := a.GetTask(ctx, queueID, taskID)
		if err != nil {
			return nil, err
		}
		if t.IsTerminal() {
			return t, nil
		}
		next := t.Clone()
		next.Status = labtask.StatusCancelled
		next.ClearLease()
		next.LastModified = a.engine.Clock().Now()
		err = a.engine.Store().Tasks().CompareAndUpdate(ctx, next, t.Etag)
		if err == nil {
			a.engine.Bus().Publish(events.Event{
				QueueID: queueID, Entity: events.EntityTask, EntityID: taskID,
				OldStatus: string(t.Status), NewStatus: string(labtask.StatusCancelled),
			})
			return next, nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, wrapNotFound(err, "task %q not found", taskID)
	}
	return nil, newError(dispatch.KindConflict, "cancel task: CAS attempts exhausted for %q", taskID)
}

// ListTasks compiles filterExpr and returns a cursor-paginated page of
// tasks scoped to queueID, per spec.md §4.7 ls-tasks.
func (a *Admin) ListTasks(ctx context.Context, queueID string, filterExpr document.Value, cursor store.Cursor, limit int) (store.Page[*labtask.Task], error) {
	filter, err := query.Compile(filterExpr)
	if err != nil {
		return store.Page[*labtask.Task]{}, newError(dispatch.KindInvalidArgument, "compile filter: %v", err)
	}
	page, err := a.engine.Store().Tasks().List(ctx, queueID, filter, cursor, limit)
	if err != nil {
		return store.Page[*labtask.Task]{}, newError(dispatch.KindTransient, "list tasks: %v", err)
	}
	return page, nil
}

// BulkUpdateResult reports the outcome of one task within a bulk update.
type BulkUpdateResult struct {
	TaskID string
	Error  error
}

// BulkUpdateTasks applies upd to every task in queueID matching
// filterExpr, reporting per-task success/failure rather than aborting the
// whole batch on the first rejected field, per spec.md §4.7.
func (a *Admin) BulkUpdateTasks(ctx context.Context, queueID string, filterExpr document.Value, upd TaskUpdate) ([]BulkUpdateResult, error) {
	filter, err := query.Compile(filterExpr)
	if err != nil {
		return nil, newError(dispatch.KindInvalidArgument, "compile filter: %v", err)
	}

	var results []BulkUpdateResult
	cursor := store.Cursor("")
	const pageSize = 256
	for {
		page, err := a.engine.Store().Tasks().List(ctx, queueID, filter, cursor, pageSize)
		if err != nil {
			return results, newError(dispatch.KindTransient, "list tasks: %v", err)
		}
		for _, t := range page.Items {
			_, err := a.UpdateTask(ctx, queueID, t.ID, upd)
			results = append(results, BulkUpdateResult{TaskID: t.ID, Error: err})
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	return results, nil
}
