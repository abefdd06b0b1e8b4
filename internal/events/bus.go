// Package events implements the in-process, bounded, lossy publish/
// subscribe bus described in spec.md §4.8: publishers are state
// transitions in the dispatch engine, subscribers are long-poll listeners
// each holding a bounded FIFO buffer. It is grounded on the teacher's
// internal/events/publisher.go Publisher/Event shapes and the
// drop-on-full pattern of internal/api/websocket/hub.go, generalized from
// Redis pub/sub to an in-process bus since the engine and transport now
// share a process.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/infinity086/labtasker/internal/clock"
)

// DefaultBufferSize is the per-subscriber buffer capacity used when a
// caller does not specify one, per spec.md §4.8.
const DefaultBufferSize = 1024

// Filter selects which events a subscription receives. QueueID is
// required; Entity and Status are optional predicates ("" matches any).
// Status matches against an event's NewStatus.
type Filter struct {
	QueueID string
	Entity  Entity
	Status  string
}

func (f Filter) match(e Event) bool {
	if e.QueueID != f.QueueID {
		return false
	}
	if f.Entity != "" && e.Entity != f.Entity {
		return false
	}
	if f.Status != "" && e.NewStatus != f.Status {
		return false
	}
	return true
}

// Bus fans published events out to matching subscribers. Publish never
// blocks: a subscriber that cannot keep up loses its oldest buffered
// events and is handed an OVERFLOW sentinel on its next read.
type Bus struct {
	clk clock.Clock

	mu     sync.Mutex
	nextID uint64
	subs   map[*Subscription]struct{}
}

// NewBus constructs an empty bus.
func NewBus(clk clock.Clock) *Bus {
	return &Bus{clk: clk, subs: map[*Subscription]struct{}{}}
}

// Subscribe registers a new long-poll listener matching filter, with a
// buffer of capacity events (DefaultBufferSize if capacity <= 0).
func (b *Bus) Subscribe(filter Filter, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	sub := &Subscription{
		filter:   filter,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription. Further Publish calls will not
// reach it. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish assigns e a monotonic id and timestamp and delivers it to every
// matching subscriber. It never blocks on a slow consumer.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	b.nextID++
	e.ID = b.nextID
	e.Timestamp = b.clk.Now()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.filter.match(e) {
			s.append(e)
		}
	}
	return e
}

// SubscriberCount reports the number of active subscriptions, for metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is one long-poll listener's bounded event buffer.
type Subscription struct {
	filter   Filter
	capacity int

	mu         sync.Mutex
	buf        []Event
	overflowed bool
	notify     chan struct{}
}

func (s *Subscription) append(e Event) {
	s.mu.Lock()
	if len(s.buf) >= s.capacity {
		s.buf = s.buf[1:]
		s.overflowed = true
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next event, blocking until one arrives or timeout
// elapses. ok is false on timeout; it never blocks past ctx's deadline
// either.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	for {
		s.mu.Lock()
		if s.overflowed {
			s.overflowed = false
			id := uint64(0)
			if len(s.buf) > 0 {
				id = s.buf[0].ID
			}
			s.mu.Unlock()
			return overflowEvent(id, time.Now()), true, nil
		}
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return e, true, nil
		}
		s.mu.Unlock()

		timer := time.NewTimer(timeout)
		select {
		case <-s.notify:
			timer.Stop()
			continue
		case <-timer.C:
			return Event{}, false, nil
		case <-ctx.Done():
			timer.Stop()
			return Event{}, false, ctx.Err()
		}
	}
}
