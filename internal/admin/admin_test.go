package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity086/labtasker/internal/clock"
	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
	"github.com/infinity086/labtasker/internal/store"
	"github.com/infinity086/labtasker/internal/store/memstore"
)

func newTestAdmin(t *testing.T) *Admin {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus(clk)
	return New(dispatch.New(st, bus, clk, dispatch.DefaultConfig()))
}

func TestCreateQueueDuplicateName(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	_, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	_, err = a.CreateQueue(ctx, "q1", "other", document.Null())
	require.Error(t, err)
	kind, ok := dispatch.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dispatch.KindAlreadyExists, kind)
}

func TestAuthenticateQueue(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	_, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, "q1", "wrong")
	require.Error(t, err)
	kind, _ := dispatch.KindOf(err)
	assert.Equal(t, dispatch.KindUnauthorized, kind)

	q, err := a.Authenticate(ctx, "q1", "secret")
	require.NoError(t, err)
	assert.Equal(t, "q1", q.Name)
}

func TestDeleteQueueCascadeRemovesTasksAndWorkers(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	_, err = a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
	require.NoError(t, err)
	_, err = a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{})
	require.NoError(t, err)

	require.NoError(t, a.DeleteQueue(ctx, q.ID, true))

	_, err = a.GetQueueByID(ctx, q.ID)
	require.Error(t, err)
}

func TestSubmitTaskDefaultsAndOverrides(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	priority := 5
	task, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{
		Args:     document.Object(map[string]document.Value{"lr": document.Number(0.1)}),
		Priority: &priority,
	})
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, 60, task.HeartbeatTimeout)
}

func TestUpdateTaskRejectsRestrictedFieldWhileRunning(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)
	task, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
	require.NoError(t, err)

	w, err := a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{})
	require.NoError(t, err)
	engine := a.engine
	_, err = engine.FetchNext(ctx, dispatch.FetchRequest{QueueID: q.ID, WorkerID: w.ID})
	require.NoError(t, err)

	newArgs := document.Object(map[string]document.Value{"lr": document.Number(0.2)})
	_, err = a.UpdateTask(ctx, q.ID, task.ID, TaskUpdate{Args: &newArgs})
	require.Error(t, err)
	kind, _ := dispatch.KindOf(err)
	assert.Equal(t, dispatch.KindInvalidArgument, kind)

	priority := 1
	updated, err := a.UpdateTask(ctx, q.ID, task.ID, TaskUpdate{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Priority)
}

func TestCancelTaskNoOpOnTerminal(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)
	task, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
	require.NoError(t, err)

	w, err := a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{})
	require.NoError(t, err)
	_, err = a.engine.FetchNext(ctx, dispatch.FetchRequest{QueueID: q.ID, WorkerID: w.ID})
	require.NoError(t, err)
	_, err = a.engine.Report(ctx, q.ID, task.ID, w.ID, dispatch.OutcomeSuccess, document.Null())
	require.NoError(t, err)

	got, err := a.CancelTask(ctx, q.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusSuccess, got.Status, "cancel on a terminal task is a no-op returning observed state")
}

func TestBulkUpdateTasksPartialSuccess(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	pending, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
	require.NoError(t, err)
	high := 20
	running, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null(), Priority: &high})
	require.NoError(t, err)

	w, err := a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{})
	require.NoError(t, err)
	fetched, err := a.engine.FetchNext(ctx, dispatch.FetchRequest{QueueID: q.ID, WorkerID: w.ID})
	require.NoError(t, err)
	require.Equal(t, running.ID, fetched.ID)

	newArgs := document.Object(map[string]document.Value{"x": document.Number(1)})
	results, err := a.BulkUpdateTasks(ctx, q.ID, document.Null(), TaskUpdate{Args: &newArgs})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]error{}
	for _, r := range results {
		byID[r.TaskID] = r.Error
	}
	assert.NoError(t, byID[pending.ID])
	assert.Error(t, byID[running.ID], "args cannot change on a RUNNING task")
}

func TestListTasksPagination(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
		require.NoError(t, err)
	}

	page1, err := a.ListTasks(ctx, q.ID, document.Null(), store.Cursor(""), 2)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.NotEmpty(t, page1.Next)

	page2, err := a.ListTasks(ctx, q.ID, document.Null(), page1.Next, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 1)
	assert.Empty(t, page2.Next)
}

func TestRegisterWorkerDuplicateName(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)

	_, err = a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{Name: "gpu-1"})
	require.NoError(t, err)
	_, err = a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{Name: "gpu-1"})
	require.Error(t, err)
	kind, _ := dispatch.KindOf(err)
	assert.Equal(t, dispatch.KindAlreadyExists, kind)
}

func TestUpdateWorkerResumeClearsRetriesAndStatus(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	q, err := a.CreateQueue(ctx, "q1", "secret", document.Null())
	require.NoError(t, err)
	maxRetries := 1
	w, err := a.RegisterWorker(ctx, q.ID, RegisterWorkerRequest{MaxRetries: &maxRetries})
	require.NoError(t, err)

	task, err := a.SubmitTask(ctx, q.ID, SubmitTaskRequest{Args: document.Null()})
	require.NoError(t, err)
	_, err = a.engine.FetchNext(ctx, dispatch.FetchRequest{QueueID: q.ID, WorkerID: w.ID})
	require.NoError(t, err)
	_, err = a.engine.Report(ctx, q.ID, task.ID, w.ID, dispatch.OutcomeFailed, document.Null())
	require.NoError(t, err)

	suspended, err := a.GetWorker(ctx, q.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, labworker.StatusSuspended, suspended.Status)

	resumed, err := a.UpdateWorker(ctx, q.ID, w.ID, WorkerUpdate{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, labworker.StatusActive, resumed.Status)
	assert.Equal(t, 0, resumed.Retries)
}
