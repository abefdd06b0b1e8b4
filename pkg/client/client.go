// Package client is a hand-written Go SDK for Labtasker's HTTP wire
// protocol (spec.md §6). The teacher generated its client from an
// OpenAPI document; no such document exists for this protocol, so this
// package talks the JSON request/response shapes directly instead of
// going through a codegen step, while keeping the teacher's layering
// (a thin transport plus typed, per-operation helper methods, functional
// Options, and a separate WebSocket side-channel).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/labworker"
)

// APIError wraps a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Err        string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("labtasker: %d %s: %s", e.StatusCode, e.Err, e.Message)
}

// Client talks to one queue on a Labtasker server, authenticated with
// that queue's shared secret. Operations outside any queue's scope
// (create-queue) are package-level functions.
type Client struct {
	baseURL   string
	queueName string
	secret    string
	opts      *options
	ws        *WebSocketClient
}

// New builds a Client scoped to queueName, authenticated with secret.
func New(baseURL, queueName, secret string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		queueName: queueName,
		secret:    secret,
		opts:      o,
	}
}

func (c *Client) queuePath(suffix string) string {
	return fmt.Sprintf("%s/v1/queues/%s%s", c.baseURL, url.PathEscape(c.queueName), suffix)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("labtasker: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return fmt.Errorf("labtasker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Queue-Secret", c.secret)
	}
	if err := c.opts.applyHeaders()(ctx, req); err != nil {
		return err
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("labtasker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Err: apiErr.Error, Message: apiErr.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateQueue implements spec.md §6 create-queue. It is not scoped to
// any existing Client since the queue doesn't exist yet; pass the same
// baseURL used for subsequent client.New calls.
func CreateQueue(ctx context.Context, baseURL, queueName, password string, metadata document.Value, opts ...Option) (*labqueue.Queue, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{baseURL: strings.TrimSuffix(baseURL, "/"), opts: o}
	var q labqueue.Queue
	err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/queues", map[string]interface{}{
		"queue_name": queueName,
		"password":   password,
		"metadata":   metadata,
	}, &q)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQueue implements spec.md §6 get-queue. Unauthenticated on the wire,
// same as the server route.
func GetQueue(ctx context.Context, baseURL, queueName string, opts ...Option) (*labqueue.Queue, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{baseURL: strings.TrimSuffix(baseURL, "/"), opts: o}
	var q labqueue.Queue
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/queues/"+url.PathEscape(queueName), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// DeleteQueue implements spec.md §6 delete-queue, admin-gated on the
// server when admin auth is enabled.
func (c *Client) DeleteQueue(ctx context.Context, cascade bool) error {
	path := c.queuePath("")
	if !cascade {
		path += "?cascade=false"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SubmitTaskRequest mirrors the server's submit-task wire request.
type SubmitTaskRequest struct {
	TaskName         string         `json:"task_name,omitempty"`
	Args             document.Value `json:"args"`
	Metadata         document.Value `json:"metadata"`
	Cmd              string         `json:"cmd,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	MaxRetries       *int           `json:"max_retries,omitempty"`
	HeartbeatTimeout *int           `json:"heartbeat_timeout,omitempty"`
	TaskTimeout      *int           `json:"task_timeout,omitempty"`
}

// SubmitTask implements spec.md §6 submit-task.
func (c *Client) SubmitTask(ctx context.Context, req SubmitTaskRequest) (*labtask.Task, error) {
	var t labtask.Task
	if err := c.do(ctx, http.MethodPost, c.queuePath("/tasks"), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask returns one task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (*labtask.Task, error) {
	var t labtask.Task
	if err := c.do(ctx, http.MethodGet, c.queuePath("/tasks/"+url.PathEscape(taskID)), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FetchTaskRequest mirrors the server's fetch-task wire request.
type FetchTaskRequest struct {
	WorkerID                 string         `json:"worker_id"`
	RequiredFields           []string       `json:"required_fields,omitempty"`
	ExtraFilter              document.Value `json:"extra_filter"`
	HeartbeatTimeoutOverride *int           `json:"heartbeat_timeout_override,omitempty"`
}

// FetchTask implements spec.md §6 fetch-task. Returns (nil, nil) when no
// task is available, per §4.3 — callers must not treat that as an error.
func (c *Client) FetchTask(ctx context.Context, req FetchTaskRequest) (*labtask.Task, error) {
	var t *labtask.Task
	if err := c.do(ctx, http.MethodPost, c.queuePath("/tasks/fetch"), req, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// Heartbeat implements spec.md §6 refresh-heartbeat.
func (c *Client) Heartbeat(ctx context.Context, taskID, workerID string) error {
	return c.do(ctx, http.MethodPost, c.queuePath("/tasks/"+url.PathEscape(taskID)+"/heartbeat"),
		map[string]string{"worker_id": workerID}, nil)
}

// ReportTask implements spec.md §6 report-task.
func (c *Client) ReportTask(ctx context.Context, taskID, workerID string, outcome dispatch.Outcome, summary document.Value) (*labtask.Task, error) {
	var t labtask.Task
	err := c.do(ctx, http.MethodPost, c.queuePath("/tasks/"+url.PathEscape(taskID)+"/report"), map[string]interface{}{
		"worker_id": workerID,
		"outcome":   outcome,
		"summary":   summary,
	}, &t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskUpdate mirrors the server's bulk update-tasks wire update, using
// nil-pointer fields to distinguish "leave unchanged" from "clear".
type TaskUpdate struct {
	TaskName         *string         `json:"task_name,omitempty"`
	Args             *document.Value `json:"args,omitempty"`
	Metadata         *document.Value `json:"metadata,omitempty"`
	Cmd              *string         `json:"cmd,omitempty"`
	Priority         *int            `json:"priority,omitempty"`
	MaxRetries       *int            `json:"max_retries,omitempty"`
	HeartbeatTimeout *int            `json:"heartbeat_timeout,omitempty"`
	TaskTimeout      **int           `json:"task_timeout,omitempty"`
}

// BulkUpdateResult is one task's outcome from BulkUpdateTasks.
type BulkUpdateResult struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// BulkUpdateTasks implements spec.md §6 update-tasks (bulk form),
// admin-gated on the server.
func (c *Client) BulkUpdateTasks(ctx context.Context, filter document.Value, update TaskUpdate) ([]BulkUpdateResult, error) {
	var results []BulkUpdateResult
	err := c.do(ctx, http.MethodPatch, c.queuePath("/tasks"), map[string]interface{}{
		"filter": filter,
		"update": update,
	}, &results)
	return results, err
}

// ListTasksResult is the ls-tasks page, admin-gated on the server.
type ListTasksResult struct {
	Items []*labtask.Task `json:"items"`
	Next  string          `json:"next,omitempty"`
}

// ListTasks implements spec.md §6 ls-tasks.
func (c *Client) ListTasks(ctx context.Context, filter document.Value, cursor string, limit int) (*ListTasksResult, error) {
	var out ListTasksResult
	if err := c.do(ctx, http.MethodGet, c.queuePath("/tasks")+listQuery(filter, cursor, limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterWorkerRequest mirrors the server's register-worker wire
// request.
type RegisterWorkerRequest struct {
	Name       string         `json:"worker_name,omitempty"`
	Metadata   document.Value `json:"metadata"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// RegisterWorker implements spec.md §6 register-worker.
func (c *Client) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (*labworker.Worker, error) {
	var w labworker.Worker
	if err := c.do(ctx, http.MethodPost, c.queuePath("/workers"), req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorker returns one worker by id.
func (c *Client) GetWorker(ctx context.Context, workerID string) (*labworker.Worker, error) {
	var w labworker.Worker
	if err := c.do(ctx, http.MethodGet, c.queuePath("/workers/"+url.PathEscape(workerID)), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// WorkerUpdate mirrors the server's update-worker wire request.
type WorkerUpdate struct {
	Metadata   *document.Value `json:"metadata,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	Resume     bool            `json:"resume,omitempty"`
}

// UpdateWorker implements spec.md §6 update-worker, admin-gated on the
// server.
func (c *Client) UpdateWorker(ctx context.Context, workerID string, update WorkerUpdate) (*labworker.Worker, error) {
	var w labworker.Worker
	if err := c.do(ctx, http.MethodPatch, c.queuePath("/workers/"+url.PathEscape(workerID)), update, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWorker implements spec.md §6 delete-worker, admin-gated on the
// server.
func (c *Client) DeleteWorker(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodDelete, c.queuePath("/workers/"+url.PathEscape(workerID)), nil, nil)
}

// ListWorkersResult is the ls-workers page, admin-gated on the server.
type ListWorkersResult struct {
	Items []*labworker.Worker `json:"items"`
	Next  string              `json:"next,omitempty"`
}

// ListWorkers implements spec.md §6 ls-workers.
func (c *Client) ListWorkers(ctx context.Context, filter document.Value, cursor string, limit int) (*ListWorkersResult, error) {
	var out ListWorkersResult
	if err := c.do(ctx, http.MethodGet, c.queuePath("/workers")+listQuery(filter, cursor, limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubscribeEvents implements spec.md §6 subscribe-events, returning an
// opaque handle to pass to NextEvent.
func (c *Client) SubscribeEvents(ctx context.Context, entity, status string, capacity int) (string, error) {
	var resp struct {
		Handle string `json:"handle"`
	}
	err := c.do(ctx, http.MethodPost, c.queuePath("/events/subscribe"), map[string]interface{}{
		"entity":   entity,
		"status":   status,
		"capacity": capacity,
	}, &resp)
	return resp.Handle, err
}

// NextEvent implements spec.md §6 next-event: a long-poll that blocks
// server-side until an event arrives or timeoutMs elapses. Returns
// (nil, nil) on timeout, never an error.
func (c *Client) NextEvent(ctx context.Context, handle string, timeoutMs int) (*events.Event, error) {
	var e *events.Event
	err := c.do(ctx, http.MethodPost, c.queuePath("/events/next"), map[string]interface{}{
		"handle":     handle,
		"timeout_ms": timeoutMs,
	}, &e)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Health implements spec.md §6 health. It is not queue-scoped.
func Health(ctx context.Context, baseURL string, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{baseURL: strings.TrimSuffix(baseURL, "/"), opts: o}
	return c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, nil)
}

// ConnectWebSocket opens the additive real-time event channel described
// in internal/transport/wsevents; see that package's doc comment for why
// this is observability, not a substitute for SubscribeEvents/NextEvent.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.queueName, c.secret)
	return c.ws.Connect(ctx)
}

// Events returns the channel of events streamed over the websocket
// connection. Call ConnectWebSocket first.
func (c *Client) Events() <-chan *events.Event {
	if c.ws == nil {
		ch := make(chan *events.Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the websocket connection, if any.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func listQuery(filter document.Value, cursor string, limit int) string {
	q := url.Values{}
	if !filter.IsNull() {
		if raw, err := json.Marshal(filter); err == nil {
			q.Set("filter", string(raw))
		}
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
