package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity086/labtasker/internal/clock"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/store"
	"github.com/infinity086/labtasker/internal/store/memstore"
)

const testQueue = "q1"

func newTestEngine(t *testing.T) (*Engine, store.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus(clk)
	return New(st, bus, clk, DefaultConfig()), st, clk
}

func insertWorker(t *testing.T, st store.Store, id string, maxRetries int) *labworker.Worker {
	t.Helper()
	w := labworker.New(id, testQueue, "", document.Null(), maxRetries, time.Now())
	require.NoError(t, st.Workers().Insert(context.Background(), w))
	return w
}

func insertTask(t *testing.T, st store.Store, id string, priority, maxRetries int, args document.Value, createdAt time.Time) *labtask.Task {
	t.Helper()
	tk := labtask.New(id, testQueue, args, document.Null(), createdAt)
	tk.Priority = priority
	tk.MaxRetries = maxRetries
	tk.HeartbeatTimeout = 60
	require.NoError(t, st.Tasks().Insert(context.Background(), tk))
	return tk
}

// S1 — happy path.
func TestHappyPath(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 3)
	insertTask(t, st, "t1", 10, 0, document.Object(map[string]document.Value{"lr": document.Number(0.1)}), time.Now())

	fetched, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, labtask.StatusRunning, fetched.Status)

	require.NoError(t, e.Heartbeat(ctx, testQueue, "t1", "w1"))

	summary := document.Object(map[string]document.Value{"acc": document.Number(0.9)})
	final, err := e.Report(ctx, testQueue, "t1", "w1", OutcomeSuccess, summary)
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusSuccess, final.Status)
	assert.True(t, document.Equal(summary, final.Summary))
	assert.Empty(t, final.WorkerID)
	assert.Nil(t, final.StartTime)
	assert.Nil(t, final.LastHeartbeat)

	w, err := st.Workers().Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, w.Retries)
}

// S2 — retry on failure, then success resets the worker's counter.
func TestRetryOnFailureThenSuccess(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)
	insertTask(t, st, "t1", 10, 2, document.Null(), time.Now())

	for i := 0; i < 2; i++ {
		fetched, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
		require.NoError(t, err)
		require.NotNil(t, fetched)
		_, err = e.Report(ctx, testQueue, "t1", "w1", OutcomeFailed, document.Null())
		require.NoError(t, err)
	}

	fetched, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	require.NotNil(t, fetched)
	final, err := e.Report(ctx, testQueue, "t1", "w1", OutcomeSuccess, document.Null())
	require.NoError(t, err)

	assert.Equal(t, labtask.StatusSuccess, final.Status)
	assert.Equal(t, 2, final.Retries)

	w, err := st.Workers().Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, w.Retries, "success resets the worker's consecutive-failure counter")
}

// S3 — worker suspension after repeated failures.
func TestWorkerSuspension(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 3)
	for _, id := range []string{"t1", "t2", "t3"} {
		insertTask(t, st, id, 10, 0, document.Null(), time.Now())
	}

	for _, id := range []string{"t1", "t2", "t3"} {
		fetched, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Equal(t, id, fetched.ID)
		_, err = e.Report(ctx, testQueue, id, "w1", OutcomeFailed, document.Null())
		require.NoError(t, err)
	}

	w, err := st.Workers().Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, labworker.StatusSuspended, w.Status)

	_, err = e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindWorkerInactive, kind)
}

// S4 — heartbeat crash: the reaper requeues or terminates, and marks the
// owning worker CRASHED.
func TestHeartbeatCrash(t *testing.T) {
	e, st, clk := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)
	tk := insertTask(t, st, "t1", 10, 1, document.Null(), time.Now())
	tk.HeartbeatTimeout = 1
	require.NoError(t, st.Tasks().Delete(ctx, "t1"))
	require.NoError(t, st.Tasks().Insert(ctx, tk))

	fetched, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	require.NotNil(t, fetched)

	clk.Advance(2 * time.Second)
	result, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HeartbeatExpired)

	got, err := st.Tasks().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusPending, got.Status, "retries remain, task should be re-queued")

	w, err := st.Workers().Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, labworker.StatusCrashed, w.Status)
}

func TestReaperIdempotent(t *testing.T) {
	e, st, clk := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)
	tk := insertTask(t, st, "t1", 10, 0, document.Null(), time.Now())
	tk.HeartbeatTimeout = 1
	require.NoError(t, st.Tasks().Delete(ctx, "t1"))
	require.NoError(t, st.Tasks().Insert(ctx, tk))

	_, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	_, err = e.Sweep(ctx)
	require.NoError(t, err)
	first, err := st.Tasks().Get(ctx, "t1")
	require.NoError(t, err)

	result2, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result2.Scanned, "task is no longer RUNNING, second sweep has nothing to do")

	second, err := st.Tasks().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Etag, second.Etag)
}

// S5 — priority ordering.
func TestPriorityOrdering(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)

	base := time.Now()
	insertTask(t, st, "A", 5, 0, document.Null(), base)
	insertTask(t, st, "B", 10, 0, document.Null(), base.Add(time.Second))
	insertTask(t, st, "C", 10, 0, document.Null(), base.Add(2*time.Second))

	first, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "B", first.ID)

	second, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "C", second.ID)

	third, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "A", third.ID)
}

// S6 — required_fields filtering.
func TestRequiredFields(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)

	base := time.Now()
	insertTask(t, st, "t1", 10, 0, document.Object(map[string]document.Value{
		"lr": document.Number(0.1),
	}), base)
	insertTask(t, st, "t2", 10, 0, document.Object(map[string]document.Value{
		"lr": document.Number(0.1), "batch": document.Number(32),
	}), base.Add(time.Second))

	got, err := e.FetchNext(ctx, FetchRequest{
		QueueID:        testQueue,
		WorkerID:       "w1",
		RequiredFields: []string{"args.batch"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.ID)

	got2, err := e.FetchNext(ctx, FetchRequest{
		QueueID:        testQueue,
		WorkerID:       "w1",
		RequiredFields: []string{"args.batch"},
	})
	require.NoError(t, err)
	assert.Nil(t, got2, "t1 still pending but lacks the required field")
}

func TestReportNotOwned(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)
	insertWorker(t, st, "w2", 5)
	insertTask(t, st, "t1", 10, 0, document.Null(), time.Now())

	_, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)

	_, err = e.Report(ctx, testQueue, "t1", "w2", OutcomeSuccess, document.Null())
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNotOwned, kind)
}

func TestHeartbeatLivenessPreventsReap(t *testing.T) {
	e, st, clk := newTestEngine(t)
	ctx := context.Background()
	insertWorker(t, st, "w1", 5)
	tk := insertTask(t, st, "t1", 10, 1, document.Null(), time.Now())
	tk.HeartbeatTimeout = 10
	require.NoError(t, st.Tasks().Delete(ctx, "t1"))
	require.NoError(t, st.Tasks().Insert(ctx, tk))

	_, err := e.FetchNext(ctx, FetchRequest{QueueID: testQueue, WorkerID: "w1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clk.Advance(5 * time.Second)
		require.NoError(t, e.Heartbeat(ctx, testQueue, "t1", "w1"))
	}

	result, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.HeartbeatExpired)

	got, err := st.Tasks().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusRunning, got.Status)
}
