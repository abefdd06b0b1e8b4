// Package dispatch implements the task dispatch and lifecycle engine: the
// state machine governing each task, the fetch-and-lease algorithm, the
// heartbeat-timeout reaper, and the retry/suspension policy. It is
// grounded on the teacher's internal/task (state machine style) and
// internal/worker (pool/heartbeat/recovery loop) packages, generalized
// from an in-process Redis-Streams worker pool to a store-mediated engine
// callable from any transport.
package dispatch

import (
	"github.com/infinity086/labtasker/internal/clock"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/store"
)

// Config tunes the engine's concurrency model, per spec.md §5.
type Config struct {
	// MaxCASAttempts bounds read-modify-write retries on etag conflict
	// before an operation returns CONFLICT. Suggested in spec.md §5: 8.
	MaxCASAttempts int
	// FetchScanLimit bounds how many PENDING candidates fetch-next
	// examines per call before giving up. Suggested in spec.md §5: 32.
	FetchScanLimit int
}

// DefaultConfig matches spec.md §5's suggested bounds.
func DefaultConfig() Config {
	return Config{MaxCASAttempts: 8, FetchScanLimit: 32}
}

// Engine is the dispatch and lifecycle engine. It holds no in-process
// locks spanning a store round-trip; every mutation is a bounded
// compare-and-update retry loop against Store.
type Engine struct {
	store store.Store
	bus   *events.Bus
	clk   clock.Clock
	cfg   Config
}

// New constructs an Engine over the given store, event bus, and clock.
func New(st store.Store, bus *events.Bus, clk clock.Clock, cfg Config) *Engine {
	return &Engine{store: st, bus: bus, clk: clk, cfg: cfg}
}

// Store exposes the underlying document store, for admin operations that
// are plain CRUD rather than engine transitions.
func (e *Engine) Store() store.Store { return e.store }

// Bus exposes the event bus, for admin operations that publish
// queue/worker lifecycle events outside the task state machine.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Clock exposes the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clk }

// Config exposes the engine's tuning parameters.
func (e *Engine) Config() Config { return e.cfg }
