// Package batch runs the generation pipeline: dispatch, progress polling and
// result aggregation, coordinated by a per-user Session.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// DefaultSyncThreshold is the largest batch the backend is asked to process
// inline. Larger batches are submitted as background tasks and polled.
const DefaultSyncThreshold = 10

var (
	ErrNoItems  = errors.New("batch has no valid items")
	ErrDispatch = errors.New("dispatch failed")
)

// Backend is the subset of the content backend the pipeline calls.
type Backend interface {
	SubmitBatch(ctx context.Context, req model.SubmitRequest) (model.SubmitResponse, error)
	GetBatchStatus(ctx context.Context, taskID string) (model.StatusResponse, error)
}

// Dispatch is the outcome of a successful submission. Results is set only
// for sync batches, which are terminal on return.
type Dispatch struct {
	Task    model.BatchTask
	Results []model.ResultItem
}

// Dispatcher submits one batch per call. It keeps no state between calls.
type Dispatcher struct {
	backend       Backend
	syncThreshold int
}

// NewDispatcher returns a Dispatcher. A threshold <= 0 means DefaultSyncThreshold.
func NewDispatcher(b Backend, syncThreshold int) *Dispatcher {
	if syncThreshold <= 0 {
		syncThreshold = DefaultSyncThreshold
	}
	return &Dispatcher{backend: b, syncThreshold: syncThreshold}
}

// ModeFor returns the execution mode requested for a batch of n items.
func (d *Dispatcher) ModeFor(n int) model.ExecutionMode {
	if n <= d.syncThreshold {
		return model.ModeSync
	}
	return model.ModeAsync
}

// Validate checks items without touching the network.
func Validate(items []model.GenerationItem) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return nil
}

// Dispatch validates items, then issues exactly one SubmitBatch call.
func (d *Dispatcher) Dispatch(ctx context.Context, items []model.GenerationItem, cfg model.GenerationConfig) (Dispatch, error) {
	if err := Validate(items); err != nil {
		return Dispatch{}, err
	}

	mode := d.ModeFor(len(items))
	resp, err := d.backend.SubmitBatch(ctx, model.SubmitRequest{
		Items:       items,
		ContentType: cfg.ContentType,
		Style:       cfg.Style,
		Languages:   cfg.Languages(),
		Async:       mode == model.ModeAsync,
	})
	if err != nil {
		return Dispatch{}, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	switch {
	case resp.Async != nil:
		total := resp.Async.Total
		if total <= 0 {
			total = len(items)
		}
		return Dispatch{Task: model.BatchTask{
			TaskID: resp.Async.TaskID,
			Mode:   model.ModeAsync,
			Total:  total,
			Status: model.TaskStatusSubmitted,
		}}, nil
	case resp.Sync != nil:
		return Dispatch{
			Task: model.BatchTask{
				Mode:   model.ModeSync,
				Total:  max(len(items), len(resp.Sync.Results)),
				Status: model.TaskStatusCompleted,
			},
			Results: resp.Sync.Results,
		}, nil
	default:
		return Dispatch{}, fmt.Errorf("%w: %w: empty submit response", ErrDispatch, model.ErrMalformedResponse)
	}
}
