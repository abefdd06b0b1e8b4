package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/infinity086/labtasker/internal/document"
)

type createQueueRequest struct {
	QueueName string         `json:"queue_name"`
	Password  string         `json:"password"`
	Metadata  document.Value `json:"metadata"`
}

// createQueue implements spec.md §6 create-queue.
func (s *Server) createQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := s.admin.CreateQueue(r.Context(), req.QueueName, req.Password, req.Metadata)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, q)
}

// getQueue implements spec.md §6 get-queue. It is intentionally
// unauthenticated: a queue's public metadata carries no secret (the
// password hash never round-trips through labqueue.Queue's JSON tags).
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queueName")
	q, err := s.admin.GetQueueByName(r.Context(), name)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// deleteQueue implements spec.md §6 delete-queue. cascade defaults to
// true: Labtasker's data model has no notion of an orphaned task or
// worker once their queue is gone.
func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request) {
	q := queueFromRequest(r)
	cascade := true
	if v := r.URL.Query().Get("cascade"); v == "false" {
		cascade = false
	}
	if err := s.admin.DeleteQueue(r.Context(), q.ID, cascade); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
