// Package handler implements the dashboard JSON API.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/archive"
	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/cache"
	"github.com/praxisllmlab/copydesk/internal/db"
	"github.com/praxisllmlab/copydesk/internal/importer"
	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
	"github.com/praxisllmlab/copydesk/internal/scheduler"
	"github.com/praxisllmlab/copydesk/internal/server/middleware"
)

// URLBuilder builds the backend URLs the dashboard navigates to.
type URLBuilder interface {
	ExportURL(req model.ExportRequest) string
	ImportTemplateURL() string
}

// Handlers holds all HTTP handler dependencies. Cache, DB and Archiver are optional.
type Handlers struct {
	Batches       *batch.Manager
	Backend       URLBuilder
	Cache         cache.Cache
	DB            db.Store
	Archiver      *archive.Archiver
	Housekeeping  Housekeeping
	MaxImportRows int
	Log           *zap.SugaredLogger
}

// Housekeeping is the admin surface of the background job scheduler.
type Housekeeping interface {
	Status() []scheduler.JobStatus
	Trigger(name string) error
}

// batchResponse wraps a snapshot with the input rows that were left out.
type batchResponse struct {
	Batch    batch.Snapshot         `json:"batch"`
	Rejected []importer.RejectedRow `json:"rejected,omitempty"`
	Cached   bool                   `json:"cached,omitempty"`
}

type rejectedError struct {
	Error    model.ErrorDetail      `json:"error"`
	Rejected []importer.RejectedRow `json:"rejected"`
}

func (h *Handlers) session(r *http.Request) *batch.Session {
	return h.Batches.Session(middleware.SessionKey(r.Context()))
}

func (h *Handlers) logger() *zap.SugaredLogger {
	return logs.OrNop(h.Log)
}

const maxJSONBytes = 1 << 20

// decodeJSON reads a JSON request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, errType string) {
	writeJSON(w, status, model.ErrorResponse{Error: model.ErrorDetail{Message: msg, Type: errType}})
}
