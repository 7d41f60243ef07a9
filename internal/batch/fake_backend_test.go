package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// fakeBackend scripts SubmitBatch and GetBatchStatus and records every call.
type fakeBackend struct {
	mu       sync.Mutex
	submitFn func(ctx context.Context, req model.SubmitRequest) (model.SubmitResponse, error)
	statusFn func(taskID string, call int) (model.StatusResponse, error)
	submits  []model.SubmitRequest
	polls    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{polls: make(map[string]int)}
}

func (f *fakeBackend) SubmitBatch(ctx context.Context, req model.SubmitRequest) (model.SubmitResponse, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return model.SubmitResponse{}, fmt.Errorf("unexpected submit")
	}
	return fn(ctx, req)
}

func (f *fakeBackend) GetBatchStatus(_ context.Context, taskID string) (model.StatusResponse, error) {
	f.mu.Lock()
	f.polls[taskID]++
	call := f.polls[taskID]
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return model.StatusResponse{}, fmt.Errorf("unexpected status query")
	}
	return fn(taskID, call)
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeBackend) lastSubmit() model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[len(f.submits)-1]
}

func (f *fakeBackend) pollCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[taskID]
}

func syncReply(results ...model.ResultItem) func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
	return func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
		return model.SubmitResponse{Sync: &model.SyncSubmit{Results: results}}, nil
	}
}

func asyncReply(taskID string, total int) func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
	return func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
		return model.SubmitResponse{Async: &model.AsyncSubmit{TaskID: taskID, Total: total}}, nil
	}
}

func refItems(n int) []model.GenerationItem {
	items := make([]model.GenerationItem, n)
	for i := range n {
		items[i] = model.NewRefItem(fmt.Sprintf("p%d", i+1))
	}
	return items
}

func okResult(name, contentID string) model.ResultItem {
	return model.ResultItem{Success: true, Name: name, ContentID: contentID}
}

func failResult(name, reason string) model.ResultItem {
	return model.ResultItem{Success: false, Name: name, Error: reason}
}

func okResults(n int) []model.ResultItem {
	out := make([]model.ResultItem, n)
	for i := range n {
		out[i] = okResult(fmt.Sprintf("p%d", i+1), fmt.Sprintf("c%d", i+1))
	}
	return out
}

func testConfig(t *testing.T) model.GenerationConfig {
	t.Helper()
	cfg, err := model.NewGenerationConfig(model.ContentTypeFullCopy, model.StyleProfessional, []string{"en"})
	require.NoError(t, err)
	return cfg
}

const testInterval = 5 * time.Millisecond
