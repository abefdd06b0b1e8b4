// Package redisstore is the production store.Store backend: one Redis
// hash per document (queue/task/worker), compare-and-update implemented
// as a Lua script so the etag check and the write are atomic, and sorted
// sets as secondary indices for priority/FIFO candidate scanning and
// cursor pagination. Grounded on the teacher's internal/queue/redis_streams.go
// (client setup, one-key-per-document storage, JSON marshal/unmarshal of
// the domain struct) and internal/queue/scheduler.go (the SETNX-based
// lock this package's Locker implements).
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infinity086/labtasker/internal/store"
)

// Options configures the underlying Redis client. Field names mirror
// internal/config.RedisConfig, which cmd/api-server copies into it field
// for field.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is a Redis-backed store.Store.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with Ping, the same
// fail-fast-at-construction behavior as the teacher's NewRedisQueue.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Queues() store.QueueStore   { return queueStore{s} }
func (s *Store) Tasks() store.TaskStore     { return taskStore{s} }
func (s *Store) Workers() store.WorkerStore { return workerStore{s} }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
func (s *Store) Close() error                   { return s.rdb.Close() }

// DeleteQueueCascade removes the queue document and every task/worker
// scoped to it, using the per-queue id sets so it never needs a full scan.
func (s *Store) DeleteQueueCascade(ctx context.Context, queueID string) error {
	q, err := queueStore{s}.GetByID(ctx, queueID)
	if err != nil {
		return err
	}

	taskIDs, err := s.rdb.SMembers(ctx, keyTaskQueueIndex(queueID)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list tasks for cascade delete: %w", err)
	}
	workerIDs, err := s.rdb.SMembers(ctx, keyWorkerQueueIndex(queueID)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list workers for cascade delete: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, id := range taskIDs {
		t, err := taskStore{s}.Get(ctx, id)
		if err == nil {
			removeTaskIndices(ctx, pipe, t)
		}
		pipe.Del(ctx, keyTask(id))
	}
	for _, id := range workerIDs {
		w, err := workerStore{s}.Get(ctx, id)
		if err == nil {
			removeWorkerIndices(ctx, pipe, w)
		}
		pipe.Del(ctx, keyWorker(id))
	}
	pipe.Del(ctx, keyTaskQueueIndex(queueID), keyWorkerQueueIndex(queueID))
	pipe.Del(ctx, keyQueue(queueID), keyQueueName(q.Name))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: cascade delete: %w", err)
	}
	return nil
}
