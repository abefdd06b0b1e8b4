package events

import (
	"time"

	"github.com/infinity086/labtasker/internal/document"
)

// Entity identifies which kind of document an event describes.
type Entity string

const (
	EntityTask     Entity = "task"
	EntityWorker   Entity = "worker"
	EntityQueue    Entity = "queue"
	entityOverflow Entity = "OVERFLOW"
)

// Event is an ephemeral state-transition notification. It is never
// persisted; durable state lives in the store.
type Event struct {
	ID         uint64         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	QueueID    string         `json:"queue_id"`
	Entity     Entity         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	OldStatus  string         `json:"old_status,omitempty"`
	NewStatus  string         `json:"new_status,omitempty"`
	Metadata   document.Value `json:"metadata"`
}

// IsOverflow reports whether e is the sentinel inserted when a subscriber's
// buffer drops events, per spec.md §4.8.
func (e Event) IsOverflow() bool { return e.Entity == entityOverflow }

func overflowEvent(id uint64, ts time.Time) Event {
	return Event{ID: id, Timestamp: ts, Entity: entityOverflow, Metadata: document.Null()}
}
