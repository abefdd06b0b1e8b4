// Package labtasklog is Labtasker's zerolog setup, renamed and adapted
// from the teacher's internal/logger/logger.go. Field helpers are scoped
// to Labtasker's own entities (queue/task/worker) instead of the
// teacher's generic worker/task pair.
package labtasklog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the package-level logger. level is any zerolog level
// name ("debug", "info", ...); pretty switches to a human-readable
// console writer for local development.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	log = zerolog.New(output).With().Timestamp().Caller().Logger()
}

// Get returns the package-level logger.
func Get() *zerolog.Logger { return &log }

// WithComponent scopes the logger to a named subsystem (e.g. "dispatch",
// "transport", "scheduler").
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithQueue scopes the logger to a queue.
func WithQueue(queueID string) zerolog.Logger {
	return log.With().Str("queue_id", queueID).Logger()
}

// WithTask scopes the logger to a task.
func WithTask(taskID string) zerolog.Logger {
	return log.With().Str("task_id", taskID).Logger()
}

// WithWorker scopes the logger to a worker.
func WithWorker(workerID string) zerolog.Logger {
	return log.With().Str("worker_id", workerID).Logger()
}

// WithTaskContext scopes the logger to a task within its queue, and
// optionally the worker that currently holds its lease. Dispatch/reaper
// log lines need all three dimensions together (a task alone doesn't
// say which queue it's being dispatched from, or which worker's lease
// is at stake), which is why this exists alongside the single-field
// With* helpers above rather than requiring callers to chain them.
func WithTaskContext(queueID, taskID, workerID string) zerolog.Logger {
	ctx := log.With().Str("queue_id", queueID).Str("task_id", taskID)
	if workerID != "" {
		ctx = ctx.Str("worker_id", workerID)
	}
	return ctx.Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
