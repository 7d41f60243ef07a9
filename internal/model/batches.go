package model

import (
	"encoding/json"
	"fmt"
)

// ExecutionMode tells whether the backend processed a batch inline or in the background.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// TaskStatus is the backend-reported lifecycle of an async batch task.
type TaskStatus string

const (
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further progress updates can follow.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// BatchTask is one submitted batch. TaskID is set only in async mode.
type BatchTask struct {
	TaskID string        `json:"task_id,omitempty"`
	Mode   ExecutionMode `json:"mode"`
	Total  int           `json:"total"`
	Status TaskStatus    `json:"status"`
}

// Advance moves the task to next unless it is already terminal.
func (t *BatchTask) Advance(next TaskStatus) bool {
	if t.Status.IsTerminal() {
		return false
	}
	t.Status = next
	return true
}

// BatchProgress is a consistent progress snapshot: Completed+Failed never exceeds Total.
type BatchProgress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
}

// NewBatchProgress clamps the counts into a consistent snapshot and derives Percent.
func NewBatchProgress(total, completed, failed int) BatchProgress {
	total = max(total, 0)
	completed = min(max(completed, 0), total)
	failed = min(max(failed, 0), total-completed)

	var pct float64
	if total > 0 {
		pct = float64(completed+failed) / float64(total) * 100
	}
	pct = min(max(pct, 0), 100)

	return BatchProgress{Total: total, Completed: completed, Failed: failed, Percent: pct}
}

// UnmarshalJSON re-derives the snapshot from the raw counts so a backend that
// over-reports cannot break the invariant.
func (p *BatchProgress) UnmarshalJSON(data []byte) error {
	var raw struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = NewBatchProgress(raw.Total, raw.Completed, raw.Failed)
	return nil
}

// GeneratedContent is the copy produced for one product.
type GeneratedContent struct {
	Title         string                      `json:"title,omitempty"`
	SellingPoints []string                    `json:"selling_points,omitempty"`
	Description   string                      `json:"description,omitempty"`
	Variants      map[string]GeneratedVariant `json:"variants,omitempty"`
}

// GeneratedVariant is the copy in one target language.
type GeneratedVariant struct {
	Title         string   `json:"title,omitempty"`
	SellingPoints []string `json:"selling_points,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// ResultItem is the outcome for one GenerationItem.
type ResultItem struct {
	Success   bool              `json:"success"`
	Name      string            `json:"name"`
	ProductID string            `json:"product_id,omitempty"`
	ContentID string            `json:"content_id,omitempty"`
	Content   *GeneratedContent `json:"content,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SubmitRequest is the submit_batch request body.
type SubmitRequest struct {
	Items       []GenerationItem `json:"items"`
	ContentType ContentType      `json:"content_type"`
	Style       Style            `json:"style"`
	Languages   []string         `json:"languages"`
	Async       bool             `json:"async"`
}

// SyncSubmit is the sync variant of a submit response.
type SyncSubmit struct {
	Results []ResultItem
}

// AsyncSubmit is the async variant of a submit response.
type AsyncSubmit struct {
	TaskID string
	Total  int
}

// SubmitResponse is a tagged union over the two submit outcomes. Exactly one
// variant is non-nil after a successful decode.
type SubmitResponse struct {
	Sync  *SyncSubmit
	Async *AsyncSubmit
}

// Mode returns the variant tag.
func (r SubmitResponse) Mode() ExecutionMode {
	if r.Async != nil {
		return ModeAsync
	}
	return ModeSync
}

type submitResponseJSON struct {
	Mode    ExecutionMode `json:"mode"`
	Results []ResultItem  `json:"results,omitempty"`
	TaskID  string        `json:"task_id,omitempty"`
	Total   int           `json:"total,omitempty"`
}

func (r *SubmitResponse) UnmarshalJSON(data []byte) error {
	var raw submitResponseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Mode {
	case ModeSync:
		*r = SubmitResponse{Sync: &SyncSubmit{Results: raw.Results}}
	case ModeAsync:
		if raw.TaskID == "" {
			return fmt.Errorf("%w: async response without task_id", ErrMalformedResponse)
		}
		*r = SubmitResponse{Async: &AsyncSubmit{TaskID: raw.TaskID, Total: raw.Total}}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrMalformedResponse, raw.Mode)
	}
	return nil
}

func (r SubmitResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.Async != nil:
		return json.Marshal(submitResponseJSON{Mode: ModeAsync, TaskID: r.Async.TaskID, Total: r.Async.Total})
	case r.Sync != nil:
		return json.Marshal(submitResponseJSON{Mode: ModeSync, Results: r.Sync.Results})
	default:
		return nil, fmt.Errorf("%w: empty submit response", ErrMalformedResponse)
	}
}

// StatusResponse is the get_batch_status response body.
type StatusResponse struct {
	Status   TaskStatus    `json:"status"`
	Progress BatchProgress `json:"progress"`
	Results  []ResultItem  `json:"results"`
}

// ExportRequest selects the generated content to export.
type ExportRequest struct {
	ContentIDs []string `json:"content_ids"`
}
