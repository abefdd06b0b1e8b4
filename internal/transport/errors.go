package transport

import (
	"encoding/json"
	"net/http"

	"github.com/infinity086/labtasker/internal/dispatch"
	"github.com/infinity086/labtasker/internal/labqueue"
	"github.com/infinity086/labtasker/internal/labtasklog"
	tmw "github.com/infinity086/labtasker/internal/transport/middleware"
)

// queueFromRequest returns the queue QueueAuth resolved for r. Every
// handler mounted under the authenticated sub-router can rely on this
// being non-nil.
func queueFromRequest(r *http.Request) *labqueue.Queue {
	return tmw.QueueFromContext(r.Context())
}

// ErrorResponse is the JSON body written on every non-2xx response,
// grounded on the teacher's internal/api/handlers.ErrorResponse shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a dispatch.ErrorKind to the HTTP status spec.md §7
// implies for it. Kinds not recognized as a *dispatch.Error fall back to
// 500, since an engine call that fails without a typed kind is always a
// bug or an unwrapped store error.
func statusFor(err error) int {
	kind, ok := dispatch.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case dispatch.KindNotFound:
		return http.StatusNotFound
	case dispatch.KindAlreadyExists:
		return http.StatusConflict
	case dispatch.KindInvalidArgument:
		return http.StatusBadRequest
	case dispatch.KindUnauthorized:
		return http.StatusUnauthorized
	case dispatch.KindWorkerInactive:
		return http.StatusConflict
	case dispatch.KindNotOwned:
		return http.StatusConflict
	case dispatch.KindNotRunning:
		return http.StatusConflict
	case dispatch.KindConflict:
		return http.StatusConflict
	case dispatch.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		labtasklog.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// respondEngineError picks the status from err's dispatch.ErrorKind and
// writes its message, so every handler funnels engine/admin failures
// through one place.
func respondEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, err.Error())
}
