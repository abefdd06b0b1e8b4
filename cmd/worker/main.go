package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/pkg/client"
)

func main() {
	var (
		serverURL   = flag.String("server", envOr("LABTASKER_SERVER", "http://localhost:8080"), "labtasker api server base URL")
		queueName   = flag.String("queue", envOr("LABTASKER_QUEUE", ""), "queue name to fetch tasks from")
		secret      = flag.String("secret", os.Getenv("LABTASKER_QUEUE_SECRET"), "queue shared secret")
		concurrency = flag.Int("concurrency", 4, "number of tasks processed at once")
		logLevel    = flag.String("log-level", envOr("LABTASKER_LOG_LEVEL", "info"), "log level")
	)
	flag.Parse()

	labtasklog.Init(*logLevel, os.Getenv("ENV") != "production")
	log := labtasklog.WithComponent("worker")

	if *queueName == "" {
		fmt.Fprintln(os.Stderr, "worker: -queue (or LABTASKER_QUEUE) is required")
		os.Exit(1)
	}

	log.Info().Msg("starting worker")

	c := client.New(*serverURL, *queueName, *secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlers := map[string]client.TaskHandler{
		"echo":    echoHandler,
		"sleep":   sleepHandler,
		"compute": computeHandler,
		"fail":    failHandler,
	}

	pool, err := client.NewWorkerPool(ctx, c, client.WorkerConfig{
		Concurrency:       *concurrency,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      2 * time.Second,
	}, dispatchByTaskName(handlers))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register worker")
	}

	log.Info().Str("worker_id", pool.WorkerID()).Int("concurrency", *concurrency).Msg("worker registered")
	pool.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	pool.Stop()
	log.Info().Msg("worker stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// dispatchByTaskName routes a fetched task to the handler named by its
// task_name field, falling back to "echo" for untyped tasks.
func dispatchByTaskName(handlers map[string]client.TaskHandler) client.TaskHandler {
	return func(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
		name := t.TaskName
		if name == "" {
			name = "echo"
		}
		h, ok := handlers[name]
		if !ok {
			return dispatch.OutcomeFailed, document.Null(), fmt.Errorf("no handler registered for task_name %q", name)
		}
		return h(ctx, t)
	}
}

// Example task handlers, ported from the teacher's cmd/worker handlers
// and adapted to Labtasker's document.Value-typed Args.

func echoHandler(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
	log := labtasklog.WithTaskContext(t.QueueID, t.ID, t.WorkerID)
	log.Info().Msg("echo handler processing task")
	return dispatch.OutcomeSuccess, document.Object(map[string]document.Value{
		"echoed": t.Args,
	}), nil
}

func sleepHandler(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
	duration := 1 * time.Second
	if v, ok := t.Args.Get("duration_ms"); ok {
		if n, ok := v.AsNumber(); ok {
			duration = time.Duration(n) * time.Millisecond
		}
	}

	log := labtasklog.WithTaskContext(t.QueueID, t.ID, t.WorkerID)
	log.Info().Dur("duration", duration).Msg("sleep handler processing task")

	select {
	case <-time.After(duration):
		return dispatch.OutcomeSuccess, document.Object(map[string]document.Value{
			"slept_for": document.String(duration.String()),
		}), nil
	case <-ctx.Done():
		return dispatch.OutcomeFailed, document.Null(), ctx.Err()
	}
}

func computeHandler(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
	iterations := 1_000_000
	if v, ok := t.Args.Get("iterations"); ok {
		if n, ok := v.AsNumber(); ok {
			iterations = int(n)
		}
	}

	log := labtasklog.WithTaskContext(t.QueueID, t.ID, t.WorkerID)
	log.Info().Int("iterations", iterations).Msg("compute handler processing task")

	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return dispatch.OutcomeFailed, document.Null(), ctx.Err()
		default:
			sum += i
		}
	}

	return dispatch.OutcomeSuccess, document.Object(map[string]document.Value{
		"result": document.Number(float64(sum)),
	}), nil
}

func failHandler(ctx context.Context, t *labtask.Task) (dispatch.Outcome, document.Value, error) {
	labtasklog.WithTaskContext(t.QueueID, t.ID, t.WorkerID).Info().Msg("fail handler processing task")
	return dispatch.OutcomeFailed, document.Null(), fmt.Errorf("intentional failure for testing")
}
