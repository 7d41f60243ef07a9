package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/model"
	"github.com/praxisllmlab/copydesk/internal/scheduler"
)

type sessionSummary struct {
	SessionKey string              `json:"session_key"`
	State      batch.State         `json:"state"`
	BatchID    string              `json:"batch_id,omitempty"`
	Progress   model.BatchProgress `json:"progress"`
	Error      string              `json:"error,omitempty"`
}

// ListSessions handles GET /v1/admin/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	keys := h.Batches.Keys()
	out := make([]sessionSummary, 0, len(keys))
	for _, k := range keys {
		s, ok := h.Batches.Lookup(k)
		if !ok {
			continue
		}
		snap := s.Snapshot()
		out = append(out, sessionSummary{
			SessionKey: k,
			State:      snap.State,
			BatchID:    snap.BatchID,
			Progress:   snap.Progress,
			Error:      snap.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// ResetSession handles DELETE /v1/admin/sessions/{key}.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s, ok := h.Batches.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session "+key, "not_found")
		return
	}
	s.Reset()
	h.logger().Infof("handler: admin reset session %s", key)
	writeJSON(w, http.StatusOK, batchResponse{Batch: s.Snapshot()})
}

// ListHousekeeping handles GET /v1/admin/housekeeping.
func (h *Handlers) ListHousekeeping(w http.ResponseWriter, r *http.Request) {
	if h.Housekeeping == nil {
		writeError(w, http.StatusNotImplemented, "housekeeping is disabled", "not_implemented")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": h.Housekeeping.Status()})
}

// RunHousekeeping handles POST /v1/admin/housekeeping/{job}/run. The run is
// queued on the job's own goroutine; poll ListHousekeeping for its outcome.
func (h *Handlers) RunHousekeeping(w http.ResponseWriter, r *http.Request) {
	if h.Housekeeping == nil {
		writeError(w, http.StatusNotImplemented, "housekeeping is disabled", "not_implemented")
		return
	}
	job := chi.URLParam(r, "job")
	err := h.Housekeeping.Trigger(job)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown housekeeping job "+job, "not_found")
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error(), "unavailable")
		return
	}
	h.logger().Infof("handler: admin triggered housekeeping job %s", job)
	writeJSON(w, http.StatusAccepted, map[string]string{"job": job, "status": "queued"})
}
