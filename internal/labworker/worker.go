// Package labworker defines the Worker entity: a registered process that
// fetches and executes tasks from a queue, tracked server-side purely for
// liveness and failure-rate bookkeeping.
package labworker

import (
	"time"

	"github.com/infinity086/labtasker/internal/document"
)

// Status is the worker lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCrashed   Status = "CRASHED"
)

// CanFetch reports whether a worker in this status may acquire new tasks.
func (s Status) CanFetch() bool { return s == StatusActive }

// Worker is a registered task executor.
type Worker struct {
	ID           string         `json:"id"`
	QueueID      string         `json:"queue_id"`
	WorkerName   string         `json:"worker_name,omitempty"`
	Metadata     document.Value `json:"metadata"`
	MaxRetries   int            `json:"max_retries"`
	Status       Status         `json:"status"`
	Retries      int            `json:"retries"`
	CreatedAt    time.Time      `json:"created_at"`
	LastModified time.Time      `json:"last_modified"`
	Etag         uint64         `json:"etag"`
}

// New constructs an ACTIVE worker. name may be empty; callers that want
// auto-naming should call AutoName first.
func New(id, queueID, name string, metadata document.Value, maxRetries int, now time.Time) *Worker {
	if metadata.IsNull() {
		metadata = document.Object(nil)
	}
	return &Worker{
		ID:           id,
		QueueID:      queueID,
		WorkerName:   name,
		Metadata:     metadata,
		MaxRetries:   maxRetries,
		Status:       StatusActive,
		Retries:      0,
		CreatedAt:    now,
		LastModified: now,
		Etag:         1,
	}
}

// DefaultMaxRetries is the worker-level consecutive-failure bound applied
// when register-worker omits max_retries.
const DefaultMaxRetries = 3

// AutoName derives a worker-name of the form "worker-<8 hex>" the way the
// teacher's pool auto-assigns a name when the caller supplies none.
func AutoName(randHex8 string) string {
	return "worker-" + randHex8
}

// RecordSuccess resets the consecutive-failure counter.
func (w *Worker) RecordSuccess() {
	w.Retries = 0
}

// RecordFailure increments the consecutive-failure counter and suspends
// the worker once it reaches MaxRetries, per spec §4.5.
func (w *Worker) RecordFailure() {
	w.Retries++
	if w.Retries >= w.MaxRetries {
		w.Status = StatusSuspended
	}
}

// ToDocument flattens the worker into a document.Value for the query
// matcher (ls-workers filtering).
func (w *Worker) ToDocument() document.Value {
	return document.Object(map[string]document.Value{
		"id":            document.String(w.ID),
		"queue_id":      document.String(w.QueueID),
		"worker_name":   document.String(w.WorkerName),
		"metadata":      w.Metadata,
		"max_retries":   document.Number(float64(w.MaxRetries)),
		"status":        document.String(string(w.Status)),
		"retries":       document.Number(float64(w.Retries)),
		"created_at":    document.String(w.CreatedAt.Format(time.RFC3339Nano)),
		"last_modified": document.String(w.LastModified.Format(time.RFC3339Nano)),
	})
}

// Clone returns a copy safe to hand to a store backend.
func (w *Worker) Clone() *Worker {
	cp := *w
	return &cp
}
