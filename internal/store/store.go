// Package store defines the abstract document-store adapter the dispatch
// engine is built against: per-collection CRUD, atomic compare-and-update
// keyed on etag, and indexed queries. The only multi-document operation
// is DeleteQueueCascade; there is no general transactional batch. Two
// implementations live in subpackages:
// memstore (in-memory, engine tests and reference) and redisstore
// (production, Redis-backed).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/query"
)

var (
	// ErrNotFound is returned when a lookup by id/name finds nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned by Create when a unique constraint
	// (queue name) is violated.
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict is returned by CompareAndUpdate when the supplied etag
	// does not match the stored document's current etag.
	ErrConflict = errors.New("store: etag conflict")
)

// Cursor is an opaque pagination token over the (created_at, id) index.
// Implementations encode/decode their own representation; callers must
// treat it as opaque.
type Cursor string

// Page is a single page of a cursor-paginated listing.
type Page[T any] struct {
	Items []T
	// Next is empty when there are no more results.
	Next Cursor
}

// QueueStore is the queues collection.
type QueueStore interface {
	Create(ctx context.Context, q *labqueue.Queue) error
	GetByID(ctx context.Context, id string) (*labqueue.Queue, error)
	GetByName(ctx context.Context, name string) (*labqueue.Queue, error)
	// CompareAndUpdate persists q if its current stored Etag equals
	// expectedEtag, then sets q.Etag to expectedEtag+1. Returns
	// ErrConflict on mismatch, ErrNotFound if the queue is gone.
	CompareAndUpdate(ctx context.Context, q *labqueue.Queue, expectedEtag uint64) error
	// Delete removes the queue itself. Cascading deletion of its tasks and
	// workers is the caller's responsibility (see Store.DeleteQueueCascade).
	Delete(ctx context.Context, id string) error
}

// TaskStore is the tasks collection.
type TaskStore interface {
	Insert(ctx context.Context, t *labtask.Task) error
	Get(ctx context.Context, id string) (*labtask.Task, error)
	CompareAndUpdate(ctx context.Context, t *labtask.Task, expectedEtag uint64) error
	Delete(ctx context.Context, id string) error
	DeleteByQueue(ctx context.Context, queueID string) error

	// ListPendingCandidates returns up to limit PENDING tasks in queueID,
	// ordered (priority DESC, created_at ASC, id ASC) per spec §4.3. It is
	// the bounded-scan source for fetch-next.
	ListPendingCandidates(ctx context.Context, queueID string, limit int) ([]*labtask.Task, error)

	// ListRunning returns all RUNNING tasks across every queue, for the
	// reaper's heartbeat/task-timeout sweep.
	ListRunning(ctx context.Context) ([]*labtask.Task, error)

	// List returns a filtered, cursor-paginated page ordered by
	// (created_at ASC, id ASC), for admin ls-tasks.
	List(ctx context.Context, queueID string, filter query.Filter, cursor Cursor, limit int) (Page[*labtask.Task], error)
}

// WorkerStore is the workers collection.
type WorkerStore interface {
	Insert(ctx context.Context, w *labworker.Worker) error
	Get(ctx context.Context, id string) (*labworker.Worker, error)
	GetByName(ctx context.Context, queueID, name string) (*labworker.Worker, error)
	CompareAndUpdate(ctx context.Context, w *labworker.Worker, expectedEtag uint64) error
	Delete(ctx context.Context, id string) error
	DeleteByQueue(ctx context.Context, queueID string) error
	List(ctx context.Context, queueID string, filter query.Filter, cursor Cursor, limit int) (Page[*labworker.Worker], error)
}

// Locker is a simple distributed mutual-exclusion primitive backing the
// reaper scheduler so multiple server replicas do not duplicate sweep
// work. It is an optimization, not a correctness requirement — every
// mutation the reaper makes is CAS'd on etag regardless, grounded on the
// teacher's internal/queue/scheduler.go SETNX-based scheduler:lock.
type Locker interface {
	// TryLock acquires key for ttl, returning false if already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases a lock previously acquired by this process. It is a
	// no-op if the lock is not held (e.g. it already expired).
	Unlock(ctx context.Context, key string) error
}

// Store is the full document-store adapter the engine depends on.
type Store interface {
	Queues() QueueStore
	Tasks() TaskStore
	Workers() WorkerStore
	Locker

	// DeleteQueueCascade removes the queue and every task/worker scoped to
	// it. Implementations should make this as close to atomic as their
	// backend allows; the in-memory and Redis implementations both
	// serialize it under a single per-queue lock/transaction.
	DeleteQueueCascade(ctx context.Context, queueID string) error

	// Ping verifies connectivity, used by the health endpoint and at
	// server startup.
	Ping(ctx context.Context) error
	Close() error
}
