package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/labtask"
)

// TaskHandler executes one fetched task and reports what happened.
// Returning an error is equivalent to outcome dispatch.OutcomeFailed
// with the error's message folded into the summary.
type TaskHandler func(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error)

// WorkerConfig tunes a managed worker loop, generalizing the teacher's
// config.WorkerConfig (internal/worker/pool.go) to Labtasker's HTTP
// fetch/heartbeat/report cycle instead of a direct Redis connection.
type WorkerConfig struct {
	// Name registers the worker under this name; empty lets the server
	// assign one.
	Name string
	// Concurrency is the number of tasks processed at once.
	Concurrency int
	// PollInterval is how long to wait between fetch-task calls that
	// returned no task.
	PollInterval time.Duration
	// HeartbeatInterval is how often a running task's lease is refreshed.
	// Should be comfortably under the task's heartbeat_timeout.
	HeartbeatInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	return c
}

// WorkerPool runs a pool of goroutines against one queue, each looping
// fetch-task -> handler -> heartbeat -> report-task, the HTTP analog of
// the teacher's worker.Pool.
type WorkerPool struct {
	client *Client
	cfg    WorkerConfig
	handle TaskHandler

	workerID string

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewWorkerPool registers a worker with the queue and returns a pool
// ready to Start. cfg.Name, if set, becomes the registered worker's
// name.
func NewWorkerPool(ctx context.Context, c *Client, cfg WorkerConfig, handle TaskHandler) (*WorkerPool, error) {
	cfg = cfg.withDefaults()
	w, err := c.RegisterWorker(ctx, RegisterWorkerRequest{
		Name:     cfg.Name,
		Metadata: document.Null(),
	})
	if err != nil {
		return nil, fmt.Errorf("labtasker: register worker: %w", err)
	}
	return &WorkerPool{
		client:   c,
		cfg:      cfg,
		handle:   handle,
		workerID: w.ID,
		stopCh:   make(chan struct{}),
	}, nil
}

// WorkerID returns the id this pool registered under.
func (p *WorkerPool) WorkerID() string { return p.workerID }

// Start launches cfg.Concurrency fetch loops.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop signals every loop to finish its current task and return, then
// waits for them.
func (p *WorkerPool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		t, err := p.client.FetchTask(ctx, FetchTaskRequest{WorkerID: p.workerID})
		if err != nil || t == nil {
			select {
			case <-ticker.C:
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		p.runTask(ctx, t)
	}
}

func (p *WorkerPool) runTask(ctx context.Context, t *labtask.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go p.heartbeatLoop(taskCtx, t.ID, hbDone)
	defer func() {
		cancel()
		<-hbDone
	}()

	outcome, summary := p.invokeHandler(taskCtx, t)

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()
	_, _ = p.client.ReportTask(reportCtx, t.ID, p.workerID, outcome, summary)
}

// invokeHandler runs the handler and always produces an outcome/summary
// pair, even if the handler panics, so runTask's report-task call below
// is guaranteed to be reached on every exit path.
func (p *WorkerPool) invokeHandler(ctx context.Context, t *labtask.Task) (outcome dispatch.Outcome, summary document.Value) {
	defer func() {
		if r := recover(); r != nil {
			outcome = dispatch.OutcomeFailed
			summary = document.Object(map[string]document.Value{
				"error": document.String(fmt.Sprintf("panic: %v", r)),
			})
		}
	}()

	var err error
	outcome, summary, err = p.handle(ctx, t)
	if err != nil {
		outcome = dispatch.OutcomeFailed
		summary = document.Object(map[string]document.Value{
			"error": document.String(err.Error()),
		})
	}
	return outcome, summary
}

func (p *WorkerPool) heartbeatLoop(ctx context.Context, taskID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.client.Heartbeat(hbCtx, taskID, p.workerID)
			cancel()
		}
	}
}
