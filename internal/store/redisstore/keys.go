package redisstore

import "fmt"

func keyQueue(id string) string     { return "queue:" + id }
func keyQueueName(name string) string { return "queue:name:" + name }

func keyTask(id string) string { return "task:" + id }

// keyTaskQueueIndex is the set of every task id scoped to a queue, used
// for cascade delete and as the base set for ls-tasks pagination.
func keyTaskQueueIndex(queueID string) string { return "idx:task:queue:" + queueID }

// keyTaskPendingIndex is a per-queue sorted set of PENDING task ids,
// scored so ZRANGE approximates (priority DESC, created_at ASC). The
// score is an approximation only: exact tie-breaking, including the id
// tie-break, is finalized in Go by ListPendingCandidates after reading
// candidates back, the same ordering memstore's ListPendingCandidates uses.
func keyTaskPendingIndex(queueID string) string { return "idx:task:pending:" + queueID }

// keyTaskRunningIndex is a global set of RUNNING task ids, scanned by the
// reaper sweep across every queue.
const keyTaskRunningIndex = "idx:task:running"

// keyTaskByQueueOrder is a per-queue sorted set ordered by created_at,
// the backing index for ls-tasks cursor pagination.
func keyTaskByQueueOrder(queueID string) string { return "idx:task:order:" + queueID }

func keyWorker(id string) string { return "worker:" + id }

func keyWorkerQueueIndex(queueID string) string { return "idx:worker:queue:" + queueID }

func keyWorkerName(queueID, name string) string { return fmt.Sprintf("worker:name:%s:%s", queueID, name) }

func keyWorkerByQueueOrder(queueID string) string { return "idx:worker:order:" + queueID }

func keyLock(name string) string { return "lock:" + name }

// pendingScore encodes (priority DESC, created_at ASC) into a single
// float64 so ZRANGE ascending yields the right candidate order for the
// common case (priority values in a small practical range, e.g. -1000..1000).
// Extreme priority values could in principle collide with the created_at
// term; that is acceptable here because this index is only ever used to
// narrow a bounded candidate scan, and ListPendingCandidates re-sorts the
// candidates it read exactly before returning them to fetch-next.
func pendingScore(priority int, createdAtUnixMilli int64) float64 {
	const priorityWeight = 1e13
	return -float64(priority)*priorityWeight + float64(createdAtUnixMilli)
}
