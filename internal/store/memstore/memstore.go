// Package memstore is an in-memory implementation of store.Store, used by
// dispatch engine unit tests and as a runnable reference backend. It
// mirrors the CAS and indexing semantics the Redis backend must honor so
// the same engine test suite runs against either.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

// Store is an in-memory, mutex-guarded store.Store.
type Store struct {
	mu sync.Mutex

	queues       map[string]*labqueue.Queue
	queueNames   map[string]string // name -> id
	tasks        map[string]*labtask.Task
	workers      map[string]*labworker.Worker
	workerByName map[string]string // queueID+"\x00"+name -> id
	locks        map[string]time.Time // key -> expiry
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		queues:       map[string]*labqueue.Queue{},
		queueNames:   map[string]string{},
		tasks:        map[string]*labtask.Task{},
		workers:      map[string]*labworker.Worker{},
		workerByName: map[string]string{},
		locks:        map[string]time.Time{},
	}
}

// TryLock implements store.Locker with an in-memory expiring map; fine
// for single-process tests, not meaningful across real replicas.
func (s *Store) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, held := s.locks[key]; held && time.Now().Before(exp) {
		return false, nil
	}
	s.locks[key] = time.Now().Add(ttl)
	return true, nil
}

// Unlock implements store.Locker.
func (s *Store) Unlock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *Store) Queues() store.QueueStore   { return queueStore{s} }
func (s *Store) Tasks() store.TaskStore     { return taskStore{s} }
func (s *Store) Workers() store.WorkerStore { return workerStore{s} }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) DeleteQueueCascade(ctx context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queueID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.queues, queueID)
	delete(s.queueNames, q.Name)
	for id, t := range s.tasks {
		if t.QueueID == queueID {
			delete(s.tasks, id)
		}
	}
	for id, w := range s.workers {
		if w.QueueID == queueID {
			delete(s.workers, id)
			delete(s.workerByName, workerNameKey(queueID, w.WorkerName))
		}
	}
	return nil
}

func workerNameKey(queueID, name string) string { return queueID + "\x00" + name }

// --- queues ---

type queueStore struct{ s *Store }

func (qs queueStore) Create(ctx context.Context, q *labqueue.Queue) error {
	s := qs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queueNames[q.Name]; exists {
		return store.ErrAlreadyExists
	}
	s.queues[q.ID] = q.Clone()
	s.queueNames[q.Name] = q.ID
	return nil
}

func (qs queueStore) GetByID(ctx context.Context, id string) (*labqueue.Queue, error) {
	s := qs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return q.Clone(), nil
}

func (qs queueStore) GetByName(ctx context.Context, name string) (*labqueue.Queue, error) {
	s := qs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.queueNames[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.queues[id].Clone(), nil
}

func (qs queueStore) CompareAndUpdate(ctx context.Context, q *labqueue.Queue, expectedEtag uint64) error {
	s := qs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.queues[q.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Etag != expectedEtag {
		return store.ErrConflict
	}
	q.Etag = expectedEtag + 1
	// renaming is not part of the spec's update-queue surface, but keep
	// the name index correct if a future caller changes it.
	if cur.Name != q.Name {
		delete(s.queueNames, cur.Name)
		s.queueNames[q.Name] = q.ID
	}
	s.queues[q.ID] = q.Clone()
	return nil
}

func (qs queueStore) Delete(ctx context.Context, id string) error {
	s := qs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.queues, id)
	delete(s.queueNames, q.Name)
	return nil
}

// --- tasks ---

type taskStore struct{ s *Store }

func (ts taskStore) Insert(ctx context.Context, t *labtask.Task) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (ts taskStore) Get(ctx context.Context, id string) (*labtask.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

func (ts taskStore) CompareAndUpdate(ctx context.Context, t *labtask.Task, expectedEtag uint64) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Etag != expectedEtag {
		return store.ErrConflict
	}
	t.Etag = expectedEtag + 1
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (ts taskStore) Delete(ctx context.Context, id string) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (ts taskStore) DeleteByQueue(ctx context.Context, queueID string) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.QueueID == queueID {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (ts taskStore) ListPendingCandidates(ctx context.Context, queueID string, limit int) ([]*labtask.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*labtask.Task
	for _, t := range s.tasks {
		if t.QueueID == queueID && t.Status == labtask.StatusPending {
			candidates = append(candidates, t.Clone())
		}
	}
	sortByPriorityThenFIFO(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func sortByPriorityThenFIFO(ts []*labtask.Task) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (ts taskStore) ListRunning(ctx context.Context) ([]*labtask.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*labtask.Task
	for _, t := range s.tasks {
		if t.Status == labtask.StatusRunning {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (ts taskStore) List(ctx context.Context, queueID string, filter query.Filter, cursor store.Cursor, limit int) (store.Page[*labtask.Task], error) {
	s := ts.s
	s.mu.Lock()
	var all []*labtask.Task
	for _, t := range s.tasks {
		if t.QueueID == queueID {
			all = append(all, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	afterCreated, afterID, hasCursor, err := decodeCursor(cursor)
	if err != nil {
		return store.Page[*labtask.Task]{}, err
	}

	var page []*labtask.Task
	for _, t := range all {
		if hasCursor && !afterCursor(t.CreatedAt.UnixNano(), t.ID, afterCreated, afterID) {
			continue
		}
		if filter != nil && !filter.Match(t.ToDocument()) {
			continue
		}
		page = append(page, t)
		if limit > 0 && len(page) > limit {
			break
		}
	}

	var next store.Cursor
	if limit > 0 && len(page) > limit {
		last := page[limit-1]
		next = encodeCursor(last.CreatedAt.UnixNano(), last.ID)
		page = page[:limit]
	}
	return store.Page[*labtask.Task]{Items: page, Next: next}, nil
}

// --- workers ---

type workerStore struct{ s *Store }

func (ws workerStore) Insert(ctx context.Context, w *labworker.Worker) error {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[w.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.workers[w.ID] = w.Clone()
	if w.WorkerName != "" {
		s.workerByName[workerNameKey(w.QueueID, w.WorkerName)] = w.ID
	}
	return nil
}

func (ws workerStore) Get(ctx context.Context, id string) (*labworker.Worker, error) {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return w.Clone(), nil
}

func (ws workerStore) GetByName(ctx context.Context, queueID, name string) (*labworker.Worker, error) {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.workerByName[workerNameKey(queueID, name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.workers[id].Clone(), nil
}

func (ws workerStore) CompareAndUpdate(ctx context.Context, w *labworker.Worker, expectedEtag uint64) error {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workers[w.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Etag != expectedEtag {
		return store.ErrConflict
	}
	w.Etag = expectedEtag + 1
	if cur.WorkerName != w.WorkerName {
		delete(s.workerByName, workerNameKey(cur.QueueID, cur.WorkerName))
		if w.WorkerName != "" {
			s.workerByName[workerNameKey(w.QueueID, w.WorkerName)] = w.ID
		}
	}
	s.workers[w.ID] = w.Clone()
	return nil
}

func (ws workerStore) Delete(ctx context.Context, id string) error {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.workers, id)
	delete(s.workerByName, workerNameKey(w.QueueID, w.WorkerName))
	return nil
}

func (ws workerStore) DeleteByQueue(ctx context.Context, queueID string) error {
	s := ws.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.workers {
		if w.QueueID == queueID {
			delete(s.workers, id)
			delete(s.workerByName, workerNameKey(w.QueueID, w.WorkerName))
		}
	}
	return nil
}

func (ws workerStore) List(ctx context.Context, queueID string, filter query.Filter, cursor store.Cursor, limit int) (store.Page[*labworker.Worker], error) {
	s := ws.s
	s.mu.Lock()
	var all []*labworker.Worker
	for _, w := range s.workers {
		if w.QueueID == queueID {
			all = append(all, w.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	afterCreated, afterID, hasCursor, err := decodeCursor(cursor)
	if err != nil {
		return store.Page[*labworker.Worker]{}, err
	}

	var page []*labworker.Worker
	for _, w := range all {
		if hasCursor && !afterCursor(w.CreatedAt.UnixNano(), w.ID, afterCreated, afterID) {
			continue
		}
		if filter != nil && !filter.Match(w.ToDocument()) {
			continue
		}
		page = append(page, w)
		if limit > 0 && len(page) > limit {
			break
		}
	}

	var next store.Cursor
	if limit > 0 && len(page) > limit {
		last := page[limit-1]
		next = encodeCursor(last.CreatedAt.UnixNano(), last.ID)
		page = page[:limit]
	}
	return store.Page[*labworker.Worker]{Items: page, Next: next}, nil
}

// --- cursor encoding ---

func encodeCursor(createdAtUnixNano int64, id string) store.Cursor {
	return store.Cursor(fmt.Sprintf("%d:%s", createdAtUnixNano, id))
}

func decodeCursor(c store.Cursor) (createdAtUnixNano int64, id string, ok bool, err error) {
	if c == "" {
		return 0, "", false, nil
	}
	parts := strings.SplitN(string(c), ":", 2)
	if len(parts) != 2 {
		return 0, "", false, fmt.Errorf("memstore: malformed cursor %q", c)
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return 0, "", false, fmt.Errorf("memstore: malformed cursor %q: %w", c, err)
	}
	return nanos, parts[1], true, nil
}

// afterCursor reports whether (createdAtNano, id) sorts strictly after the
// cursor position (afterCreated, afterID) in (created_at ASC, id ASC) order.
func afterCursor(createdAtNano int64, id string, afterCreated int64, afterID string) bool {
	if createdAtNano != afterCreated {
		return createdAtNano > afterCreated
	}
	return id > afterID
}
