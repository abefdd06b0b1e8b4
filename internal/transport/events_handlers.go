package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/metrics"
)

// defaultNextEventTimeout bounds a next-event long-poll when the caller
// does not specify one, per spec.md §4.8's suspension-point rule.
const defaultNextEventTimeout = 25 * time.Second

// maxNextEventTimeout caps a caller-supplied timeout so one long-poll
// request cannot pin a transport goroutine indefinitely.
const maxNextEventTimeout = 55 * time.Second

// eventStreams holds the open subscribe-events handles. A handle is an
// opaque token, not a websocket: next-event is a plain long-poll HTTP
// call, per spec.md §6.
// TODO: handles are never released on client disconnect; add an idle
// expiry sweep once a subscriber-count alarm shows this mattering.
type eventStreams struct {
	mu   sync.Mutex
	subs map[string]*events.Subscription
}

func newEventStreams() *eventStreams {
	return &eventStreams{subs: make(map[string]*events.Subscription)}
}

func (es *eventStreams) open(sub *events.Subscription) string {
	handle := uuid.New().String()
	es.mu.Lock()
	es.subs[handle] = sub
	es.mu.Unlock()
	return handle
}

func (es *eventStreams) get(handle string) (*events.Subscription, bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	sub, ok := es.subs[handle]
	return sub, ok
}

type subscribeEventsRequest struct {
	Entity   string `json:"entity,omitempty"`
	Status   string `json:"status,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

type subscribeEventsResponse struct {
	Handle string `json:"handle"`
}

// subscribeEvents implements spec.md §6 subscribe-events.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	var req subscribeEventsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	capacity := req.Capacity
	if capacity <= 0 {
		capacity = s.cfg.Events.BufferSize
	}
	sub := s.engine.Bus().Subscribe(events.Filter{
		QueueID: q.ID,
		Entity:  events.Entity(req.Entity),
		Status:  req.Status,
	}, capacity)
	handle := s.streams.open(sub)
	metrics.SetEventBusSubscribers(float64(s.engine.Bus().SubscriberCount()))
	respondJSON(w, http.StatusCreated, subscribeEventsResponse{Handle: handle})
}

type nextEventRequest struct {
	Handle    string `json:"handle"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// nextEvent implements spec.md §6 next-event: a long-poll that blocks
// until an event arrives or the timeout expires, returning 200 with a JSON
// null body on timeout rather than an error.
func (s *Server) nextEvent(w http.ResponseWriter, r *http.Request) {
	var req nextEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, ok := s.streams.get(req.Handle)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown subscription handle")
		return
	}

	timeout := defaultNextEventTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout > maxNextEventTimeout {
			timeout = maxNextEventTimeout
		}
	}

	e, ok, err := sub.Next(r.Context(), timeout)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	if e.IsOverflow() {
		metrics.RecordEventBusDrop(queueFromRequest(r).Name)
	}
	respondJSON(w, http.StatusOK, e)
}

// health reports store connectivity, per spec.md §6 health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
