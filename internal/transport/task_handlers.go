package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/labtask"
	"github.com/infinity086/labtasker/internal/metrics"
	"github.com/infinity086/labtasker/internal/store"
)

type submitTaskRequest struct {
	TaskName         string         `json:"task_name,omitempty"`
	Args             document.Value `json:"args"`
	Metadata         document.Value `json:"metadata"`
	Cmd              string         `json:"cmd,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	MaxRetries       *int           `json:"max_retries,omitempty"`
	HeartbeatTimeout *int           `json:"heartbeat_timeout,omitempty"`
	TaskTimeout      *int           `json:"task_timeout,omitempty"`
}

// submitTask implements spec.md §6 submit-task.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := s.admin.SubmitTask(r.Context(), q.ID, admin.SubmitTaskRequest{
		TaskName:         req.TaskName,
		Args:             req.Args,
		Metadata:         req.Metadata,
		Cmd:              req.Cmd,
		Priority:         req.Priority,
		MaxRetries:       req.MaxRetries,
		HeartbeatTimeout: req.HeartbeatTimeout,
		TaskTimeout:      req.TaskTimeout,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	metrics.RecordTaskSubmission(q.Name)
	respondJSON(w, http.StatusCreated, t)
}

type fetchTaskRequest struct {
	WorkerID                 string         `json:"worker_id"`
	RequiredFields           []string       `json:"required_fields,omitempty"`
	ExtraFilter              document.Value `json:"extra_filter"`
	HeartbeatTimeoutOverride *int           `json:"heartbeat_timeout_override,omitempty"`
}

// fetchTask implements spec.md §6 fetch-task. A nil task with 200 OK and
// a null body is "no task available" per §4.3 — callers must not treat
// it as an error.
func (s *Server) fetchTask(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	var req fetchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start := time.Now()
	t, err := s.engine.FetchNext(r.Context(), dispatch.FetchRequest{
		QueueID:                  q.ID,
		WorkerID:                 req.WorkerID,
		RequiredFields:           req.RequiredFields,
		ExtraFilter:              req.ExtraFilter,
		HeartbeatTimeoutOverride: req.HeartbeatTimeoutOverride,
	})
	metrics.RecordFetchLatency(q.Name, time.Since(start).Seconds())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if t == nil {
		metrics.RecordFetchEmpty(q.Name)
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// getTask returns one task by id, scoped to the authenticated queue.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	taskID := chi.URLParam(r, "taskID")
	t, err := s.admin.GetTask(r.Context(), q.ID, taskID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

type refreshHeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// refreshHeartbeat implements spec.md §6 refresh-heartbeat.
func (s *Server) refreshHeartbeat(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	taskID := chi.URLParam(r, "taskID")
	var req refreshHeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.Heartbeat(r.Context(), q.ID, taskID, req.WorkerID); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reportTaskRequest struct {
	WorkerID string           `json:"worker_id"`
	Outcome  dispatch.Outcome `json:"outcome"`
	Summary  document.Value   `json:"summary"`
}

// reportTask implements spec.md §6 report-task.
func (s *Server) reportTask(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	taskID := chi.URLParam(r, "taskID")
	var req reportTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := s.engine.Report(r.Context(), q.ID, taskID, req.WorkerID, req.Outcome, req.Summary)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if req.Outcome == dispatch.OutcomeFailed && t.Status == labtask.StatusPending {
		metrics.RecordTaskRetry(q.Name)
	}
	respondJSON(w, http.StatusOK, t)
}

type listTasksResponse struct {
	Items []*labtask.Task `json:"items"`
	Next  string          `json:"next,omitempty"`
}

// listTasks implements spec.md §6 ls-tasks, admin-gated.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	filter, cursor, limit, err := parseListParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.admin.ListTasks(r.Context(), q.ID, filter, cursor, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listTasksResponse{Items: page.Items, Next: string(page.Next)})
}

type bulkUpdateTasksRequest struct {
	Filter document.Value `json:"filter"`
	Update taskUpdateWire `json:"update"`
}

type taskUpdateWire struct {
	TaskName         *string         `json:"task_name,omitempty"`
	Args             *document.Value `json:"args,omitempty"`
	Metadata         *document.Value `json:"metadata,omitempty"`
	Cmd              *string         `json:"cmd,omitempty"`
	Priority         *int            `json:"priority,omitempty"`
	MaxRetries       *int            `json:"max_retries,omitempty"`
	HeartbeatTimeout *int            `json:"heartbeat_timeout,omitempty"`
	TaskTimeout      **int           `json:"task_timeout,omitempty"`
}

func (w taskUpdateWire) toAdmin() admin.TaskUpdate {
	return admin.TaskUpdate{
		TaskName:         w.TaskName,
		Args:             w.Args,
		Metadata:         w.Metadata,
		Cmd:              w.Cmd,
		Priority:         w.Priority,
		MaxRetries:       w.MaxRetries,
		HeartbeatTimeout: w.HeartbeatTimeout,
		TaskTimeout:      w.TaskTimeout,
	}
}

type bulkUpdateResultWire struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// bulkUpdateTasks implements spec.md §6 update-tasks (bulk form),
// admin-gated. Each task's outcome is reported independently; a
// per-task field rejection does not abort the rest of the batch.
func (s *Server) bulkUpdateTasks(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	var req bulkUpdateTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	results, err := s.admin.BulkUpdateTasks(r.Context(), q.ID, req.Filter, req.Update.toAdmin())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]bulkUpdateResultWire, len(results))
	for i, res := range results {
		item := bulkUpdateResultWire{TaskID: res.TaskID}
		if res.Error != nil {
			item.Error = res.Error.Error()
		}
		out[i] = item
	}
	respondJSON(w, http.StatusOK, out)
}

func parseListParams(r *http.Request) (document.Value, store.Cursor, int, error) {
	q := r.URL.Query()
	filter := document.Null()
	if raw := q.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return document.Null(), "", 0, err
		}
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return document.Null(), "", 0, err
		}
		limit = n
	}
	return filter, store.Cursor(q.Get("cursor")), limit, nil
}
