package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// TryLock implements store.Locker with a Redis SETNX-with-TTL, the same
// pattern as the teacher's internal/queue/scheduler.go reaper lock.
func (s *Store) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyLock(key), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Unlock releases the lock. Best-effort: if the lock already expired this
// is a harmless no-op, matching the Locker contract.
func (s *Store) Unlock(ctx context.Context, key string) error {
	err := s.rdb.Del(ctx, keyLock(key)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
