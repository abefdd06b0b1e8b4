//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/clock"
	"github.com/infinity086/labtasker/internal/config"
	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/internal/store/memstore"
	"github.com/infinity086/labtasker/internal/transport"
	"github.com/infinity086/labtasker/pkg/client"

	"net/http/httptest"
)

func init() {
	labtasklog.Init("error", false)
}

// newTestStack wires a full store -> bus -> engine -> admin -> transport
// chain over an httptest server, exercising the same HTTP surface a real
// client talks to, without depending on a live Redis instance.
func newTestStack(t *testing.T, adminEnabled bool) *httptest.Server {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus(clk)
	engine := dispatch.New(st, bus, clk, dispatch.DefaultConfig())
	a := admin.New(engine)
	cfg := &config.Config{Auth: config.AuthConfig{AdminEnabled: adminEnabled}}
	srv := transport.NewServer(cfg, engine, a)
	return httptest.NewServer(srv)
}

func TestTaskLifecycle_SubmitFetchReportSuccess(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, srv.URL, "lifecycle-q", "secret", document.Null())
	require.NoError(t, err)

	c := client.New(srv.URL, "lifecycle-q", "secret")

	task, err := c.SubmitTask(ctx, client.SubmitTaskRequest{
		TaskName: "train",
		Args:     document.Object(map[string]document.Value{"lr": document.Number(0.01)}),
		Metadata: document.Null(),
	})
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusPending, task.Status)

	w, err := c.RegisterWorker(ctx, client.RegisterWorkerRequest{Name: "gpu-0"})
	require.NoError(t, err)

	fetched, err := c.FetchTask(ctx, client.FetchTaskRequest{WorkerID: w.ID})
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, task.ID, fetched.ID)
	assert.Equal(t, labtask.StatusRunning, fetched.Status)
	assert.Equal(t, w.ID, fetched.WorkerID)

	require.NoError(t, c.Heartbeat(ctx, fetched.ID, w.ID))

	reported, err := c.ReportTask(ctx, fetched.ID, w.ID, dispatch.OutcomeSuccess,
		document.Object(map[string]document.Value{"accuracy": document.Number(0.94)}))
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusSuccess, reported.Status)

	got, err := c.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusSuccess, got.Status)
}

func TestTaskLifecycle_FailedTaskRequeuesUntilRetriesExhausted(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, srv.URL, "retry-q", "secret", document.Null())
	require.NoError(t, err)
	c := client.New(srv.URL, "retry-q", "secret")

	maxRetries := 1
	task, err := c.SubmitTask(ctx, client.SubmitTaskRequest{
		Args:       document.Null(),
		Metadata:   document.Null(),
		MaxRetries: &maxRetries,
	})
	require.NoError(t, err)

	w, err := c.RegisterWorker(ctx, client.RegisterWorkerRequest{Name: "w1"})
	require.NoError(t, err)

	// First attempt fails and should be requeued to PENDING, not terminal.
	fetched, err := c.FetchTask(ctx, client.FetchTaskRequest{WorkerID: w.ID})
	require.NoError(t, err)
	require.NotNil(t, fetched)
	reported, err := c.ReportTask(ctx, fetched.ID, w.ID, dispatch.OutcomeFailed, document.Null())
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusPending, reported.Status)

	// Second attempt fails and should now be terminally FAILED.
	fetched, err = c.FetchTask(ctx, client.FetchTaskRequest{WorkerID: w.ID})
	require.NoError(t, err)
	require.NotNil(t, fetched)
	reported, err = c.ReportTask(ctx, fetched.ID, w.ID, dispatch.OutcomeFailed, document.Null())
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusFailed, reported.Status)
	assert.Equal(t, task.ID, reported.ID)

	// No further task should be dispatchable from this queue.
	none, err := c.FetchTask(ctx, client.FetchTaskRequest{WorkerID: w.ID})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTaskLifecycle_BulkUpdateAndListWithAdminAuthDisabled(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, srv.URL, "admin-q", "secret", document.Null())
	require.NoError(t, err)
	c := client.New(srv.URL, "admin-q", "secret")

	for i := 0; i < 3; i++ {
		_, err := c.SubmitTask(ctx, client.SubmitTaskRequest{Args: document.Null(), Metadata: document.Null()})
		require.NoError(t, err)
	}

	listed, err := c.ListTasks(ctx, document.Null(), "", 10)
	require.NoError(t, err)
	assert.Len(t, listed.Items, 3)

	priority := 1
	results, err := c.BulkUpdateTasks(ctx, document.Null(), client.TaskUpdate{Priority: &priority})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.Empty(t, r.Error)
	}
}

func TestTaskLifecycle_GetTaskNotFound(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, srv.URL, "nf-q", "secret", document.Null())
	require.NoError(t, err)
	c := client.New(srv.URL, "nf-q", "secret")

	_, err = c.GetTask(ctx, "nonexistent-id")
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestTaskLifecycle_Health(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()

	require.NoError(t, client.Health(context.Background(), srv.URL))
}

func TestTaskLifecycle_DeleteQueueCascadesTasks(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, srv.URL, "cascade-q", "secret", document.Null())
	require.NoError(t, err)
	c := client.New(srv.URL, "cascade-q", "secret")

	task, err := c.SubmitTask(ctx, client.SubmitTaskRequest{Args: document.Null(), Metadata: document.Null()})
	require.NoError(t, err)

	require.NoError(t, c.DeleteQueue(ctx, true))

	_, err = c.GetTask(ctx, task.ID)
	require.Error(t, err)

	_, err = client.GetQueue(ctx, srv.URL, "cascade-q")
	require.Error(t, err)
}

func TestWorkerLifecycle_FetchHeartbeatReportViaPool(t *testing.T) {
	srv := newTestStack(t, false)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.CreateQueue(ctx, srv.URL, "pool-q", "secret", document.Null())
	require.NoError(t, err)
	c := client.New(srv.URL, "pool-q", "secret")

	submitted, err := c.SubmitTask(ctx, client.SubmitTaskRequest{
		TaskName: "echo",
		Args:     document.Object(map[string]document.Value{"msg": document.String("hi")}),
		Metadata: document.Null(),
	})
	require.NoError(t, err)

	processed := make(chan *labtask.Task, 1)
	pool, err := client.NewWorkerPool(ctx, c, client.WorkerConfig{
		Name:         "pool-worker",
		PollInterval: 20 * time.Millisecond,
	}, func(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
		processed <- t
		return dispatch.OutcomeSuccess, document.Object(map[string]document.Value{"echoed": t.Args}), nil
	})
	require.NoError(t, err)

	pool.Start(ctx)
	defer pool.Stop()

	select {
	case got := <-processed:
		msg, ok := got.Args.Get("msg")
		require.True(t, ok)
		s, ok := msg.AsString()
		require.True(t, ok)
		assert.Equal(t, "hi", s)
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not process the task in time")
	}

	// Give the pool a moment to report before asserting on final state.
	time.Sleep(50 * time.Millisecond)
	w, err := client.GetQueue(ctx, srv.URL, "pool-q")
	require.NoError(t, err)
	assert.Equal(t, "pool-q", w.Name)

	reported, err := c.GetTask(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, labtask.StatusSuccess, reported.Status)
}
