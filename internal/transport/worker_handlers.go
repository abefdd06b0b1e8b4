package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/document"
	"github.com/infinity086/labtasker/internal/labworker"
)

type registerWorkerRequest struct {
	Name       string         `json:"worker_name,omitempty"`
	Metadata   document.Value `json:"metadata"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// registerWorker implements spec.md §6 register-worker.
func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wk, err := s.admin.RegisterWorker(r.Context(), q.ID, admin.RegisterWorkerRequest{
		Name:       req.Name,
		Metadata:   req.Metadata,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wk)
}

// getWorker returns one worker by id, scoped to the authenticated queue.
func (s *Server) getWorker(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	workerID := chi.URLParam(r, "workerID")
	wk, err := s.admin.GetWorker(r.Context(), q.ID, workerID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wk)
}

type updateWorkerRequest struct {
	Metadata   *document.Value `json:"metadata,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	Resume     bool            `json:"resume,omitempty"`
}

// updateWorker implements spec.md §6 update-worker, admin-gated.
func (s *Server) updateWorker(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	workerID := chi.URLParam(r, "workerID")
	var req updateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wk, err := s.admin.UpdateWorker(r.Context(), q.ID, workerID, admin.WorkerUpdate{
		Metadata:   req.Metadata,
		MaxRetries: req.MaxRetries,
		Resume:     req.Resume,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wk)
}

// deleteWorker implements spec.md §6 delete-worker, admin-gated.
func (s *Server) deleteWorker(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	workerID := chi.URLParam(r, "workerID")
	if err := s.admin.DeleteWorker(r.Context(), q.ID, workerID); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listWorkersResponse struct {
	Items []*labworker.Worker `json:"items"`
	Next  string               `json:"next,omitempty"`
}

// listWorkers implements spec.md §6 ls-workers, admin-gated.
func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	filter, cursor, limit, err := parseListParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.admin.ListWorkers(r.Context(), q.ID, filter, cursor, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listWorkersResponse{Items: page.Items, Next: string(page.Next)})
}
