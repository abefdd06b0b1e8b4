// Package labtask defines the Task entity and its lifecycle state machine.
// A Task is an immutable parameter bundle (args) submitted to a queue; the
// dispatch engine owns every transition described here, always guarded by
// a store-level compare-and-update on Etag.
package labtask

import (
	"errors"
	"time"

	"github.com/infinity086/labtasker/internal/document"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible for this
// status in isolation. FAILED is only conditionally terminal — whether
// retries remain is a property of the task, not the status alone — so
// callers needing that must consult Task.IsTerminal instead.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusCancelled
}

var (
	// ErrInvalidTransition is returned when a caller attempts a transition
	// not reachable from the task's current status.
	ErrInvalidTransition = errors.New("labtask: invalid state transition")
	// ErrNotFound mirrors the engine-level NOT_FOUND kind for callers that
	// work with tasks directly (e.g. store implementations).
	ErrNotFound = errors.New("labtask: task not found")
)

// validTransitions enumerates the state machine of spec §4.2. Reaper and
// report share the RUNNING branches; admin cancel reaches CANCELLED from
// any non-terminal state.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusPending}, // re-queue; FAILED->FAILED (terminal) is not a transition, it's staying put
}

// CanTransition reports whether to is reachable from from.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is the persistent unit of work dispatched to workers.
type Task struct {
	ID            string          `json:"id"`
	QueueID       string          `json:"queue_id"`
	TaskName      string          `json:"task_name,omitempty"`
	Args          document.Value  `json:"args"`
	Metadata      document.Value  `json:"metadata"`
	Cmd           string          `json:"cmd,omitempty"`
	HeartbeatTimeout int          `json:"heartbeat_timeout"` // seconds
	TaskTimeout   *int            `json:"task_timeout,omitempty"` // seconds, nil = unbounded
	MaxRetries    int             `json:"max_retries"`
	Priority      int             `json:"priority"`
	Status        Status          `json:"status"`
	Retries       int             `json:"retries"`
	WorkerID      string          `json:"worker_id,omitempty"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	Summary       document.Value  `json:"summary"`
	CreatedAt     time.Time       `json:"created_at"`
	LastModified  time.Time       `json:"last_modified"`
	Etag          uint64          `json:"etag"`
}

// IsTerminal reports whether the task can never transition again. FAILED
// is terminal only once Retries has reached MaxRetries.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusSuccess, StatusCancelled:
		return true
	case StatusFailed:
		return t.Retries >= t.MaxRetries
	default:
		return false
	}
}

// New constructs a PENDING task with the given server-assigned id and
// CreatedAt/LastModified set to now; persisting it is a separate step,
// matching the teacher's convention of a plain constructor plus store call.
func New(id, queueID string, args, metadata document.Value, now time.Time) *Task {
	if metadata.IsNull() {
		metadata = document.Object(nil)
	}
	return &Task{
		ID:               id,
		QueueID:          queueID,
		Args:             args,
		Metadata:         metadata,
		HeartbeatTimeout: 60,
		MaxRetries:       0,
		Priority:         10,
		Status:           StatusPending,
		Summary:          document.Null(),
		CreatedAt:        now,
		LastModified:     now,
		Etag:             1,
	}
}

// ClearLease resets the fields owned by a worker lease, used on re-queue.
func (t *Task) ClearLease() {
	t.WorkerID = ""
	t.LastHeartbeat = nil
	t.StartTime = nil
}

// ToDocument flattens the task into a document.Value so the query matcher
// can filter ls-tasks/bulk-update by any field, not just args/metadata.
func (t *Task) ToDocument() document.Value {
	fields := map[string]document.Value{
		"id":                document.String(t.ID),
		"queue_id":          document.String(t.QueueID),
		"task_name":         document.String(t.TaskName),
		"args":              t.Args,
		"metadata":          t.Metadata,
		"cmd":               document.String(t.Cmd),
		"heartbeat_timeout": document.Number(float64(t.HeartbeatTimeout)),
		"max_retries":       document.Number(float64(t.MaxRetries)),
		"priority":          document.Number(float64(t.Priority)),
		"status":            document.String(string(t.Status)),
		"retries":           document.Number(float64(t.Retries)),
		"worker_id":         document.String(t.WorkerID),
		"summary":           t.Summary,
		"created_at":        document.String(t.CreatedAt.Format(time.RFC3339Nano)),
		"last_modified":     document.String(t.LastModified.Format(time.RFC3339Nano)),
	}
	if t.TaskTimeout != nil {
		fields["task_timeout"] = document.Number(float64(*t.TaskTimeout))
	}
	return document.Object(fields)
}

// Clone returns a deep-enough copy safe to hand to a store backend: time
// pointers are copied rather than shared, document.Value trees are
// immutable and need no copying.
func (t *Task) Clone() *Task {
	cp := *t
	if t.TaskTimeout != nil {
		v := *t.TaskTimeout
		cp.TaskTimeout = &v
	}
	if t.LastHeartbeat != nil {
		v := *t.LastHeartbeat
		cp.LastHeartbeat = &v
	}
	if t.StartTime != nil {
		v := *t.StartTime
		cp.StartTime = &v
	}
	return &cp
}
