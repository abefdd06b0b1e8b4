package admin

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

// RegisterWorkerRequest holds the fields a client may set on
// register-worker. Name falls back to labworker.AutoName when empty.
type RegisterWorkerRequest struct {
	Name       string
	Metadata   document.Value
	MaxRetries *int
}

// RegisterWorker validates queueID exists, rejects duplicate names within
// the queue, and inserts a new ACTIVE worker.
func (a *Admin) RegisterWorker(ctx context.Context, queueID string, req RegisterWorkerRequest) (*labworker.Worker, error) {
	if _, err := a.GetQueueByID(ctx, queueID); err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = labworker.AutoName(newID()[:8])
	} else if _, err := a.engine.Store().Workers().GetByName(ctx, queueID, name); err == nil {
		return nil, newError(dispatch.KindAlreadyExists, "worker %q already registered in queue %q", name, queueID)
	}
	maxRetries := labworker.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	now := a.engine.Clock().Now()
	w := labworker.New(newID(), queueID, name, req.Metadata, maxRetries, now)
	if err := a.engine.Store().Workers().Insert(ctx, w); err != nil {
		return nil, newError(dispatch.KindTransient, "register worker: %v", err)
	}
	a.engine.Bus().Publish(events.Event{
		QueueID: queueID, Entity: events.EntityWorker, EntityID: w.ID,
		NewStatus: string(labworker.StatusActive),
	})
	return w, nil
}

// GetWorker fetches a worker scoped to queueID.
func (a *Admin) GetWorker(ctx context.Context, queueID, workerID string) (*labworker.Worker, error) {
	w, err := a.engine.Store().Workers().Get(ctx, workerID)
	if err != nil {
		return nil, wrapNotFound(err, "worker %q not found", workerID)
	}
	if w.QueueID != queueID {
		return nil, newError(dispatch.KindNotFound, "worker %q not found in queue %q", workerID, queueID)
	}
	return w, nil
}

// WorkerUpdate carries the optional fields of an admin worker update.
// Setting Resume clears Retries to 0 and forces Status back to ACTIVE,
// the operator's escape hatch for a SUSPENDED worker per spec.md §4.7.
type WorkerUpdate struct {
	Metadata   *document.Value
	MaxRetries *int
	Resume     bool
}

// UpdateWorker applies a CAS-guarded partial update.
func (a *Admin) UpdateWorker(ctx context.Context, queueID, workerID string, upd WorkerUpdate) (*labworker.Worker, error) {
	for attempt := 0; attempt < a.engine.Config().MaxCASAttempts; attempt++ {
		w, err := a.GetWorker(ctx, queueID, workerID)
		if err != nil {
			return nil, err
		}
		next := w.Clone()
		oldStatus := next.Status
		if upd.Metadata != nil {
			next.Metadata = *upd.Metadata
		}
		if upd.MaxRetries != nil {
			next.MaxRetries = *upd.MaxRetries
		}
		if upd.Resume {
			next.Retries = 0
			next.Status = labworker.StatusActive
		}
		next.LastModified = a.engine.Clock().Now()
		err = a.engine.Store().Workers().CompareAndUpdate(ctx, next, w.Etag)
		if err == nil {
			if next.Status != oldStatus {
				a.engine.Bus().Publish(events.Event{
					QueueID: queueID, Entity: events.EntityWorker, EntityID: workerID,
					OldStatus: string(oldStatus), NewStatus: string(next.Status),
				})
			}
			return next, nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, wrapNotFound(err, "worker %q not found", workerID)
	}
	return nil, newError(dispatch.KindConflict, "update worker: CAS attempts exhausted for %q", workerID)
}

// DeleteWorker removes a worker registration. In-flight tasks leased to it
// are left RUNNING; the reaper's heartbeat-timeout sweep reclaims them
// once their lease lapses, same as any other worker disappearance.
func (a *Admin) DeleteWorker(ctx context.Context, queueID, workerID string) error {
	if _, err := a.GetWorker(ctx, queueID, workerID); err != nil {
		return err
	}
	if err := a.engine.Store().Workers().Delete(ctx, workerID); err != nil {
		return wrapNotFound(err, "worker %q not found", workerID)
	}
	return nil
}

// ListWorkers compiles filterExpr and returns a cursor-paginated page of
// workers scoped to queueID, per spec.md §4.7 ls-workers.
func (a *Admin) ListWorkers(ctx context.Context, queueID string, filterExpr document.Value, cursor store.Cursor, limit int) (store.Page[*labworker.Worker], error) {
	filter, err := query.Compile(filterExpr)
	if err != nil {
		return store.Page[*labworker.Worker]{}, newError(dispatch.KindInvalidArgument, "compile filter: %v", err)
	}
	page, err := a.engine.Store().Workers().List(ctx, queueID, filter, cursor, limit)
	if err != nil {
		return store.Page[*labworker.Worker]{}, newError(dispatch.KindTransient, "list workers: %v", err)
	}
	return page, nil
}
