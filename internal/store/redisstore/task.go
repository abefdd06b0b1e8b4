package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

type taskStore struct{ s *Store }

func (ts taskStore) Insert(ctx context.Context, t *labtask.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redisstore: marshal task: %w", err)
	}
	if err := runCreate(ctx, ts.s.rdb, keyTask(t.ID), doc); err != nil {
		return err
	}

	pipe := ts.s.rdb.TxPipeline()
	pipe.SAdd(ctx, keyTaskQueueIndex(t.QueueID), t.ID)
	pipe.ZAdd(ctx, keyTaskByQueueOrder(t.QueueID), redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
	addTaskStatusIndices(ctx, pipe, t)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: index task: %w", err)
	}
	return nil
}

func (ts taskStore) Get(ctx context.Context, id string) (*labtask.Task, error) {
	data, err := ts.s.rdb.HGet(ctx, keyTask(id), "doc").Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get task: %w", err)
	}
	var t labtask.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal task: %w", err)
	}
	return &t, nil
}

func (ts taskStore) CompareAndUpdate(ctx context.Context, t *labtask.Task, expectedEtag uint64) error {
	prev, err := ts.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Etag = expectedEtag + 1
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redisstore: marshal task: %w", err)
	}
	if err := runCAS(ctx, ts.s.rdb, keyTask(t.ID), expectedEtag, doc, t.Etag); err != nil {
		return err
	}

	pipe := ts.s.rdb.TxPipeline()
	removeTaskStatusIndices(ctx, pipe, prev)
	addTaskStatusIndices(ctx, pipe, t)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: reindex task: %w", err)
	}
	return nil
}

func (ts taskStore) Delete(ctx context.Context, id string) error {
	t, err := ts.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := ts.s.rdb.TxPipeline()
	pipe.Del(ctx, keyTask(id))
	pipe.SRem(ctx, keyTaskQueueIndex(t.QueueID), id)
	pipe.ZRem(ctx, keyTaskByQueueOrder(t.QueueID), id)
	removeTaskStatusIndices(ctx, pipe, t)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete task: %w", err)
	}
	return nil
}

func (ts taskStore) DeleteByQueue(ctx context.Context, queueID string) error {
	ids, err := ts.s.rdb.SMembers(ctx, keyTaskQueueIndex(queueID)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list tasks for delete: %w", err)
	}
	for _, id := range ids {
		if err := ts.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ListPendingCandidates reads an approximately-ordered window from the
// per-queue pending sorted set, fetches the full documents, drops any
// stale index entries (the status may have moved on since the ZADD), and
// finishes the ordering exactly the way memstore does before truncating
// to limit. The index only needs to narrow the scan; dispatch relies on
// the returned order being exact.
func (ts taskStore) ListPendingCandidates(ctx context.Context, queueID string, limit int) ([]*labtask.Task, error) {
	scanLimit := limit * 4
	if scanLimit <= 0 {
		scanLimit = 128
	}
	ids, err := ts.s.rdb.ZRange(ctx, keyTaskPendingIndex(queueID), 0, int64(scanLimit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: scan pending index: %w", err)
	}

	var candidates []*labtask.Task
	for _, id := range ids {
		t, err := ts.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if t.Status != labtask.StatusPending {
			ts.s.rdb.ZRem(ctx, keyTaskPendingIndex(queueID), id)
			continue
		}
		candidates = append(candidates, t)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ListRunning scans the global running index, which is small relative to
// total task volume since tasks only stay in it for the duration of a
// lease.
func (ts taskStore) ListRunning(ctx context.Context) ([]*labtask.Task, error) {
	ids, err := ts.s.rdb.SMembers(ctx, keyTaskRunningIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: scan running index: %w", err)
	}
	var out []*labtask.Task
	for _, id := range ids {
		t, err := ts.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ts.s.rdb.SRem(ctx, keyTaskRunningIndex, id)
				continue
			}
			return nil, err
		}
		if t.Status != labtask.StatusRunning {
			ts.s.rdb.SRem(ctx, keyTaskRunningIndex, id)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (ts taskStore) List(ctx context.Context, queueID string, filter query.Filter, cursor store.Cursor, limit int) (store.Page[*labtask.Task], error) {
	ids, err := ts.s.rdb.ZRange(ctx, keyTaskByQueueOrder(queueID), 0, -1).Result()
	if err != nil {
		return store.Page[*labtask.Task]{}, fmt.Errorf("redisstore: scan task order index: %w", err)
	}

	afterCreated, afterID, hasCursor, err := decodeCursor(cursor)
	if err != nil {
		return store.Page[*labtask.Task]{}, err
	}

	var page []*labtask.Task
	for _, id := range ids {
		t, err := ts.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return store.Page[*labtask.Task]{}, err
		}
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

func addTaskStatusIndices(ctx context.Context, pipe redis.Pipeliner, t *labtask.Task) {
	switch t.Status {
	case labtask.StatusPending:
		pipe.ZAdd(ctx, keyTaskPendingIndex(t.QueueID), redis.Z{
			Score: pendingScore(t.Priority, t.CreatedAt.UnixMilli()), Member: t.ID,
		})
	case labtask.StatusRunning:
		pipe.SAdd(ctx, keyTaskRunningIndex, t.ID)
	}
}

func removeTaskStatusIndices(ctx context.Context, pipe redis.Pipeliner, t *labtask.Task) {
	pipe.ZRem(ctx, keyTaskPendingIndex(t.QueueID), t.ID)
	pipe.SRem(ctx, keyTaskRunningIndex, t.ID)
}

func removeTaskIndices(ctx context.Context, pipe redis.Pipeliner, t *labtask.Task) {
	pipe.SRem(ctx, keyTaskQueueIndex(t.QueueID), t.ID)
	pipe.ZRem(ctx, keyTaskByQueueOrder(t.QueueID), t.ID)
	removeTaskStatusIndices(ctx, pipe, t)
}
