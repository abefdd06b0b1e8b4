package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/store"
)

type queueStore struct{ s *Store }

func (qs queueStore) Create(ctx context.Context, q *labqueue.Queue) error {
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redisstore: marshal queue: %w", err)
	}
	res, err := createQueueScript.Run(ctx, qs.s.rdb,
		[]string{keyQueue(q.ID), keyQueueName(q.Name)}, doc, "1", q.ID).Text()
	if err != nil {
		return fmt.Errorf("redisstore: create queue: %w", err)
	}
	if res == "EXISTS" {
		return store.ErrAlreadyExists
	}
	return nil
}

func (qs queueStore) GetByID(ctx context.Context, id string) (*labqueue.Queue, error) {
	data, err := qs.s.rdb.HGet(ctx, keyQueue(id), "doc").Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get queue: %w", err)
	}
	var q labqueue.Queue
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal queue: %w", err)
	}
	return &q, nil
}

func (qs queueStore) GetByName(ctx context.Context, name string) (*labqueue.Queue, error) {
	id, err := qs.s.rdb.Get(ctx, keyQueueName(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: lookup queue by name: %w", err)
	}
	return qs.GetByID(ctx, id)
}

func (qs queueStore) CompareAndUpdate(ctx context.Context, q *labqueue.Queue, expectedEtag uint64) error {
	q.Etag = expectedEtag + 1
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redisstore: marshal queue: %w", err)
	}
	return runCAS(ctx, qs.s.rdb, keyQueue(q.ID), expectedEtag, doc, q.Etag)
}

func (qs queueStore) Delete(ctx context.Context, id string) error {
	q, err := qs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	pipe := qs.s.rdb.TxPipeline()
	pipe.Del(ctx, keyQueue(id))
	pipe.Del(ctx, keyQueueName(q.Name))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: delete queue: %w", err)
	}
	return nil
}
