package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/query"
	"github.com/infinity086/labtasker/internal/store"
)

type workerStore struct{ s *Store }

func (ws workerStore) Insert(ctx context.Context, w *labworker.Worker) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisstore: marshal worker: %w", err)
	}
	if err := runCreate(ctx, ws.s.rdb, keyWorker(w.ID), doc); err != nil {
		return err
	}

	pipe := ws.s.rdb.TxPipeline()
	pipe.SAdd(ctx, keyWorkerQueueIndex(w.QueueID), w.ID)
	pipe.ZAdd(ctx, keyWorkerByQueueOrder(w.QueueID), redis.Z{Score: float64(w.CreatedAt.UnixMilli()), Member: w.ID})
	if w.WorkerName != "" {
		pipe.Set(ctx, keyWorkerName(w.QueueID, w.WorkerName), w.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: index worker: %w", err)
	}
	return nil
}

func (ws workerStore) Get(ctx context.Context, id string) (*labworker.Worker, error) {
	data, err := ws.s.rdb.HGet(ctx, keyWorker(id), "doc").Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get worker: %w", err)
	}
	var w labworker.Worker
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal worker: %w", err)
	}
	return &w, nil
}

func (ws workerStore) GetByName(ctx context.Context, queueID, name string) (*labworker.Worker, error) {
	id, err := ws.s.rdb.Get(ctx, keyWorkerName(queueID, name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: lookup worker by name: %w", err)
	}
	return ws.Get(ctx, id)
}

func (ws workerStore) CompareAndUpdate(ctx context.Context, w *labworker.Worker, expectedEtag uint64) error {
	prev, err := ws.Get(ctx, w.ID)
	if err != nil {
		return err
	}
	w.Etag = expectedEtag + 1
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisstore: marshal worker: %w", err)
	}
	if err := runCAS(ctx, ws.s.rdb, keyWorker(w.ID), expectedEtag, doc, w.Etag); err != nil {
		return err
	}
	if prev.WorkerName != w.WorkerName {
		pipe := ws.s.rdb.TxPipeline()
		if prev.WorkerName != "" {
			pipe.Del(ctx, keyWorkerName(prev.QueueID, prev.WorkerName))
		}
		if w.WorkerName != "" {
			pipe.Set(ctx, keyWorkerName(w.QueueID, w.WorkerName), w.ID, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redisstore: reindex worker name: %w", err)
		}
	}
	return nil
}

func (ws workerStore) Delete(ctx context.Context, id string) error {
	w, err := ws.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := ws.s.rdb.TxPipeline()
	pipe.Del(ctx, keyWorker(id))
	pipe.SRem(ctx, keyWorkerQueueIndex(w.QueueID), id)
	pipe.ZRem(ctx, keyWorkerByQueueOrder(w.QueueID), id)
	if w.WorkerName != "" {
		pipe.Del(ctx, keyWorkerName(w.QueueID, w.WorkerName))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete worker: %w", err)
	}
	return nil
}

func (ws workerStore) DeleteByQueue(ctx context.Context, queueID string) error {
	ids, err := ws.s.rdb.SMembers(ctx, keyWorkerQueueIndex(queueID)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list workers for delete: %w", err)
	}
	for _, id := range ids {
		if err := ws.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (ws workerStore) List(ctx context.Context, queueID string, filter query.Filter, cursor store.Cursor, limit int) (store.Page[*labworker.Worker], error) {
	ids, err := ws.s.rdb.ZRange(ctx, keyWorkerByQueueOrder(queueID), 0, -1).Result()
	if err != nil {
		return store.Page[*labworker.Worker]{}, fmt.Errorf("redisstore: scan worker order index: %w", err)
	}

	afterCreated, afterID, hasCursor, err := decodeCursor(cursor)
	if err != nil {
		return store.Page[*labworker.Worker]{}, err
	}

	var page []*labworker.Worker
	for _, id := range ids {
		w, err := ws.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return store.Page[*labworker.Worker]{}, err
		}
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

func removeWorkerIndices(ctx context.Context, pipe redis.Pipeliner, w *labworker.Worker) {
	pipe.SRem(ctx, keyWorkerQueueIndex(w.QueueID), w.ID)
	pipe.ZRem(ctx, keyWorkerByQueueOrder(w.QueueID), w.ID)
	if w.WorkerName != "" {
		pipe.Del(ctx, keyWorkerName(w.QueueID, w.WorkerName))
	}
}
