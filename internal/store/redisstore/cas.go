package redisstore

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/infinity086/labtasker/internal/store"
)

// createScript atomically creates a document hash, failing if it already
// exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'EXISTS'
end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'etag', ARGV[2])
return 'OK'
`)

// casScript atomically checks the stored etag and, on match, writes the
// new document and bumps the etag. This is the compare-and-update
// primitive every CompareAndUpdate method in this package is built on.
var casScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'NOTFOUND'
end
local cur = redis.call('HGET', KEYS[1], 'etag')
if cur ~= ARGV[1] then
  return 'CONFLICT'
end
redis.call('HSET', KEYS[1], 'doc', ARGV[2], 'etag', ARGV[3])
return 'OK'
`)

// createQueueScript additionally enforces the unique-name constraint via
// a second key, atomically with the document write.
var createQueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 'EXISTS'
end
redis.call('SET', KEYS[2], ARGV[3])
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'etag', ARGV[2])
return 'OK'
`)

func runCreate(ctx context.Context, rdb *redis.Client, key string, doc []byte) error {
	res, err := createScript.Run(ctx, rdb, []string{key}, doc, "1").Text()
	if err != nil {
		return err
	}
	if res == "EXISTS" {
		return store.ErrAlreadyExists
	}
	return nil
}

func runCAS(ctx context.Context, rdb *redis.Client, key string, expectedEtag uint64, doc []byte, newEtag uint64) error {
	res, err := casScript.Run(ctx, rdb, []string{key},
		strconv.FormatUint(expectedEtag, 10), doc, strconv.FormatUint(newEtag, 10)).Text()
	if err != nil {
		return err
	}
	switch res {
	case "NOTFOUND":
		return store.ErrNotFound
	case "CONFLICT":
		return store.ErrConflict
	default:
		return nil
	}
}
