// Package admin implements the queue/task/worker mutation surface of
// spec.md §4.7: create, delete, update, ls. Reporting a task's result is
// dispatch.Engine.Report, not part of this package. It is a thin
// layer over internal/dispatch and internal/store — validation and id
// assignment live here, state-machine transitions stay in dispatch.
// Grounded on the teacher's internal/api/handlers/{admin,task}.go,
// adapted from direct Redis calls to calls through the engine and store.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/store"
)

// Admin wraps the dispatch engine with the CRUD operations that feed it.
type Admin struct {
	engine *dispatch.Engine
}

// New constructs an Admin over engine.
func New(engine *dispatch.Engine) *Admin {
	return &Admin{engine: engine}
}

func newID() string { return uuid.New().String() }

// CreateQueue validates and inserts a new queue.
func (a *Admin) CreateQueue(ctx context.Context, name, password string, metadata document.Value) (*labqueue.Queue, error) {
	if name == "" {
		return nil, newError(dispatch.KindInvalidArgument, "queue_name is required")
	}
	if password == "" {
		return nil, newError(dispatch.KindInvalidArgument, "password is required")
	}
	now := a.engine.Clock().Now()
	q, err := labqueue.New(newID(), name, password, metadata, now)
	if err != nil {
		return nil, newError(dispatch.KindInvalidArgument, "hash password: %v", err)
	}
	if err := a.engine.Store().Queues().Create(ctx, q); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, newError(dispatch.KindAlreadyExists, "queue %q already exists", name)
		}
		return nil, newError(dispatch.KindTransient, "create queue: %v", err)
	}
	a.engine.Bus().Publish(events.Event{
		QueueID: q.ID, Entity: events.EntityQueue, EntityID: q.ID, NewStatus: "CREATED",
	})
	return q, nil
}

// GetQueueByID fetches a queue by id.
func (a *Admin) GetQueueByID(ctx context.Context, id string) (*labqueue.Queue, error) {
	q, err := a.engine.Store().Queues().GetByID(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "queue %q not found", id)
	}
	return q, nil
}

// GetQueueByName fetches a queue by its unique name.
func (a *Admin) GetQueueByName(ctx context.Context, name string) (*labqueue.Queue, error) {
	q, err := a.engine.Store().Queues().GetByName(ctx, name)
	if err != nil {
		return nil, wrapNotFound(err, "queue %q not found", name)
	}
	return q, nil
}

// Authenticate verifies a queue's shared secret, returning UNAUTHORIZED on
// mismatch.
func (a *Admin) Authenticate(ctx context.Context, queueName, password string) (*labqueue.Queue, error) {
	q, err := a.GetQueueByName(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if !q.CheckPassword(password) {
		return nil, newError(dispatch.KindUnauthorized, "bad password for queue %q", queueName)
	}
	return q, nil
}

// UpdateQueueMetadata applies a CAS-guarded metadata update.
func (a *Admin) UpdateQueueMetadata(ctx context.Context, queueID string, metadata document.Value) (*labqueue.Queue, error) {
	for attempt := 0; attempt < a.engine.Config().MaxCASAttempts; attempt++ {
		q, err := a.engine.Store().Queues().GetByID(ctx, queueID)
		if err != nil {
			return nil, wrapNotFound(err, "queue %q not found", queueID)
		}
		next := q.Clone()
		next.Metadata = metadata
		next.LastModified = a.engine.Clock().Now()
		err = a.engine.Store().Queues().CompareAndUpdate(ctx, next, q.Etag)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, wrapNotFound(err, "queue %q not found", queueID)
	}
	return nil, newError(dispatch.KindConflict, "update queue: CAS attempts exhausted for %q", queueID)
}

// DeleteQueue removes a queue. cascade additionally removes every task and
// worker scoped to it. Without cascade only the queue document is
// deleted: its tasks and workers are neither checked for nor removed.
func (a *Admin) DeleteQueue(ctx context.Context, queueID string, cascade bool) error {
	if cascade {
		if err := a.engine.Store().DeleteQueueCascade(ctx, queueID); err != nil {
			return wrapNotFound(err, "queue %q not found", queueID)
		}
		return nil
	}
	if err := a.engine.Store().Queues().Delete(ctx, queueID); err != nil {
		return wrapNotFound(err, "queue %q not found", queueID)
	}
	return nil
}

func newError(kind dispatch.ErrorKind, format string, args ...interface{}) *dispatch.Error {
	return &dispatch.Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(dispatch.KindNotFound, format, args...)
	}
	return newError(dispatch.KindTransient, "%v", err)
}
