package dispatch

import (
	"context"
	"errors"

	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

// FetchRequest is the fetch-next contract of spec.md §4.3.
type FetchRequest struct {
	QueueID                 string
	WorkerID                string
	RequiredFields          []string
	ExtraFilter             document.Value // raw filter expression; Null() means no filter
	HeartbeatTimeoutOverride *int
}

// FetchNext atomically leases at most one PENDING task to the requesting
// worker. It returns (nil, nil) when no matching task is available —
// "no task" is a well-defined outcome, not an error.
func (e *Engine) FetchNext(ctx context.Context, req FetchRequest) (*labtask.Task, error) {
	w, err := e.store.Workers().Get(ctx, req.WorkerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindWorkerInactive, "worker %q not registered", req.WorkerID)
		}
		return nil, newError(KindTransient, "load worker: %v", err)
	}
	if w.QueueID != req.QueueID {
		return nil, newError(KindWorkerInactive, "worker %q not registered on queue %q", req.WorkerID, req.QueueID)
	}
	if !w.Status.CanFetch() {
		return nil, newError(KindWorkerInactive, "worker %q is %s", req.WorkerID, w.Status)
	}

	filter, err := query.Compile(req.ExtraFilter)
	if err != nil {
		return nil, newError(KindInvalidArgument, "extra_filter: %v", err)
	}

	candidates, err := e.store.Tasks().ListPendingCandidates(ctx, req.QueueID, e.cfg.FetchScanLimit)
	if err != nil {
		return nil, newError(KindTransient, "list candidates: %v", err)
	}

	attempts := 0
	for _, candidate := range candidates {
		if len(req.RequiredFields) > 0 && !query.RequireFields(candidate.ToDocument(), req.RequiredFields) {
			continue
		}
		if !filter.Match(candidate.ToDocument()) {
			continue
		}

		if attempts >= e.cfg.MaxCASAttempts {
			break
		}
		attempts++

		leased := candidate.Clone()
		leased.Status = labtask.StatusRunning
		leased.WorkerID = req.WorkerID
		now := e.clk.Now()
		leased.StartTime = &now
		leased.LastHeartbeat = &now
		if req.HeartbeatTimeoutOverride != nil {
			leased.HeartbeatTimeout = *req.HeartbeatTimeoutOverride
		}
		leased.LastModified = now

		err := e.store.Tasks().CompareAndUpdate(ctx, leased, candidate.Etag)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // another worker won; try the next candidate
			}
			if errors.Is(err, store.ErrNotFound) {
				continue // deleted concurrently
			}
			return nil, newError(KindTransient, "lease task: %v", err)
		}

		e.bus.Publish(events.Event{
			QueueID:   req.QueueID,
			Entity:    events.EntityTask,
			EntityID:  leased.ID,
			OldStatus: string(labtask.StatusPending),
			NewStatus: string(labtask.StatusRunning),
			Metadata:  leased.Metadata,
		})
		return leased, nil
	}

	return nil, nil
}
