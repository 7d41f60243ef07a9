package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/praxisllmlab/copydesk/internal/archive"
	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/cache"
	"github.com/praxisllmlab/copydesk/internal/db"
	"github.com/praxisllmlab/copydesk/internal/importer"
	"github.com/praxisllmlab/copydesk/internal/model"
	"github.com/praxisllmlab/copydesk/internal/server/middleware"
)

const (
	maxImportBytes      = 10 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type createBatchRequest struct {
	ProductIDs []string                   `json:"product_ids,omitempty"`
	Products   []model.ProductDescription `json:"products,omitempty"`
	Config     *model.GenerationConfig    `json:"config,omitempty"`
}

// CreateBatch handles POST /v1/batches.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	records := make([]importer.CatalogRecord, len(req.ProductIDs))
	for i, id := range req.ProductIDs {
		records[i] = importer.CatalogRecord{ID: id}
	}
	items := importer.FromCatalog(records)
	inline := importer.FromProducts(req.Products)
	items = append(items, inline.Items...)

	if len(items) == 0 {
		writeRejected(w, "no valid items to generate", inline.Rejected)
		return
	}

	s := h.session(r)
	if req.Config != nil {
		if err := s.SetConfig(*req.Config); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
	}
	h.start(w, r, s, items, inline.Rejected)
}

// ImportBatch handles POST /v1/batches/import with a multipart CSV "file".
func (h *Handlers) ImportBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error(), "invalid_request_error")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing import file", "invalid_request_error")
		return
	}
	defer file.Close()

	rows, err := importer.ParseCSV(file, h.MaxImportRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	norm := importer.FromRows(rows)
	if len(norm.Items) == 0 {
		writeRejected(w, "no valid rows in import file", norm.Rejected)
		return
	}

	s := h.session(r)
	if cfg, changed, err := configFromForm(r, s.Config()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	} else if changed {
		if err := s.SetConfig(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
	}
	h.start(w, r, s, norm.Items, norm.Rejected)
}

// configFromForm overlays the content_type, style and languages form fields
// on base. languages may be repeated or comma-separated.
func configFromForm(r *http.Request, base model.GenerationConfig) (model.GenerationConfig, bool, error) {
	ct, style, langs := base.ContentType, base.Style, base.Languages()
	changed := false
	if v := strings.TrimSpace(r.FormValue("content_type")); v != "" {
		ct, changed = model.ContentType(v), true
	}
	if v := strings.TrimSpace(r.FormValue("style")); v != "" {
		style, changed = model.Style(v), true
	}
	if vs := r.MultipartForm.Value["languages"]; len(vs) > 0 {
		langs = langs[:0]
		for _, v := range vs {
			langs = append(langs, strings.Split(v, ",")...)
		}
		changed = true
	}
	if !changed {
		return base, false, nil
	}
	cfg, err := model.NewGenerationConfig(ct, style, langs)
	return cfg, true, err
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request, s *batch.Session, items []model.GenerationItem, rejected []importer.RejectedRow) {
	snap, err := s.Start(r.Context(), items)
	switch {
	case err == nil:
	case errors.Is(err, batch.ErrNoItems), errors.Is(err, model.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	case errors.Is(err, batch.ErrDispatchInFlight), errors.Is(err, batch.ErrSuperseded), errors.Is(err, batch.ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error(), "conflict")
		return
	case errors.Is(err, model.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error(), "backend_error")
		return
	default:
		writeError(w, http.StatusBadGateway, err.Error(), "backend_error")
		return
	}

	status := http.StatusOK
	if !snap.State.IsTerminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, batchResponse{Batch: snap, Rejected: rejected})
}

// current returns the caller's live snapshot, falling back to the cached one
// when the session has no batch in this process.
func (h *Handlers) current(r *http.Request) (batch.Snapshot, bool, error) {
	key := middleware.SessionKey(r.Context())
	if s, ok := h.Batches.Lookup(key); ok {
		if snap := s.Snapshot(); snap.BatchID != "" {
			return snap, false, nil
		}
	}
	if h.Cache == nil {
		return batch.Snapshot{}, false, nil
	}
	snap, ok, err := batch.LoadSnapshot(r.Context(), h.Cache, key)
	if err != nil || !ok {
		return batch.Snapshot{}, false, err
	}
	return snap, true, nil
}

// CurrentBatch handles GET /v1/batches/current.
func (h *Handlers) CurrentBatch(w http.ResponseWriter, r *http.Request) {
	snap, cached, err := h.current(r)
	if err != nil {
		h.logger().Warnf("handler: load cached snapshot: %v", err)
	}
	if snap.BatchID == "" {
		writeError(w, http.StatusNotFound, "no batch for this session", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: snap, Cached: cached})
}

// CancelBatch handles DELETE /v1/batches/current. Polling stops locally;
// the backend task is left alone.
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	key := middleware.SessionKey(r.Context())
	s := h.Batches.Session(key)
	s.Reset()
	if h.Cache != nil {
		_ = h.Cache.Delete(r.Context(), cache.SessionKey(key))
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: s.Snapshot()})
}

// ExportBatch handles GET /v1/batches/current/export by redirecting to the
// backend's export download for the successful items.
func (h *Handlers) ExportBatch(w http.ResponseWriter, r *http.Request) {
	snap, _, _ := h.current(r)
	req := snap.ExportRequest()
	if len(req.ContentIDs) == 0 {
		writeError(w, http.StatusConflict, "no successful items to export", "conflict")
		return
	}
	http.Redirect(w, r, h.Backend.ExportURL(req), http.StatusFound)
}

// ArchiveBatch handles POST /v1/batches/current/archive.
func (h *Handlers) ArchiveBatch(w http.ResponseWriter, r *http.Request) {
	if h.Archiver == nil {
		writeError(w, http.StatusNotImplemented, "archiving is not configured", "not_implemented")
		return
	}
	snap, _, _ := h.current(r)
	taskID := ""
	if snap.Task != nil {
		taskID = snap.Task.TaskID
	}

	res, err := h.Archiver.Archive(r.Context(), snap.SessionKey, taskID, snap.ExportRequest())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, res)
	case errors.Is(err, archive.ErrNothingToArchive):
		writeError(w, http.StatusConflict, err.Error(), "conflict")
	default:
		h.logger().Warnf("handler: %v", err)
		writeError(w, http.StatusBadGateway, err.Error(), "archive_error")
	}
}

type historyEntry struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	Mode        string     `json:"mode"`
	State       string     `json:"state"`
	Total       int32      `json:"total"`
	Completed   int32      `json:"completed"`
	Failed      int32      `json:"failed"`
	ContentType string     `json:"content_type"`
	Style       string     `json:"style"`
	Languages   []string   `json:"languages"`
	SuccessIDs  []string   `json:"success_ids"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func toHistoryEntry(b db.CopydeskBatch) historyEntry {
	e := historyEntry{
		ID:          b.ID,
		Mode:        b.Mode,
		State:       b.State,
		Total:       b.Total,
		Completed:   b.Completed,
		Failed:      b.Failed,
		ContentType: b.ContentType,
		Style:       b.Style,
		Languages:   b.Languages,
		SuccessIDs:  b.SuccessIds,
		StartedAt:   b.StartedAt.Time,
	}
	if b.TaskID != nil {
		e.TaskID = *b.TaskID
	}
	if b.Error != nil {
		e.Error = *b.Error
	}
	if b.FinishedAt.Valid {
		t := b.FinishedAt.Time
		e.FinishedAt = &t
	}
	if e.SuccessIDs == nil {
		e.SuccessIDs = []string{}
	}
	return e
}

// BatchHistory handles GET /v1/batches/history?limit=N.
func (h *Handlers) BatchHistory(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		writeError(w, http.StatusNotImplemented, "batch history requires a database", "not_implemented")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v), "invalid_request_error")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.DB.ListRecentBatches(r.Context(), db.ListRecentBatchesParams{
		SessionKey: middleware.SessionKey(r.Context()),
		Limit:      int32(limit),
	})
	if err != nil {
		h.logger().Errorf("handler: list batches: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load batch history", "internal_error")
		return
	}

	out := make([]historyEntry, 0, len(rows))
	for _, b := range rows {
		out = append(out, toHistoryEntry(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// ImportTemplate handles GET /v1/import/template.
func (h *Handlers) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.Backend.ImportTemplateURL(), http.StatusFound)
}

func writeRejected(w http.ResponseWriter, msg string, rejected []importer.RejectedRow) {
	if rejected == nil {
		rejected = []importer.RejectedRow{}
	}
	writeJSON(w, http.StatusBadRequest, rejectedError{
		Error:    model.ErrorDetail{Message: msg, Type: "invalid_request_error"},
		Rejected: rejected,
	})
}
