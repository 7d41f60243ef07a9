package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/backend"
	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/db"
	"github.com/praxisllmlab/copydesk/internal/model"
	"github.com/praxisllmlab/copydesk/internal/server/middleware"
)

// stubBackend answers submissions in-process. Up to syncMax items get sync
// results where every item succeeds with content id c<N>. Larger batches get
// task "t1", which completes on the first status query.
type stubBackend struct {
	mu        sync.Mutex
	submitErr error
	last      model.SubmitRequest
}

func (b *stubBackend) SubmitBatch(_ context.Context, req model.SubmitRequest) (model.SubmitResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = req
	if b.submitErr != nil {
		return model.SubmitResponse{}, b.submitErr
	}
	if req.Async {
		return model.SubmitResponse{Async: &model.AsyncSubmit{TaskID: "t1", Total: len(req.Items)}}, nil
	}
	return model.SubmitResponse{Sync: &model.SyncSubmit{Results: results(req.Items)}}, nil
}

func (b *stubBackend) GetBatchStatus(context.Context, string) (model.StatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.StatusResponse{
		Status:   model.TaskStatusCompleted,
		Progress: model.NewBatchProgress(len(b.last.Items), len(b.last.Items), 0),
		Results:  results(b.last.Items),
	}, nil
}

func (b *stubBackend) lastSubmit() model.SubmitRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func results(items []model.GenerationItem) []model.ResultItem {
	out := make([]model.ResultItem, len(items))
	for i, it := range items {
		out[i] = model.ResultItem{Success: true, Name: it.DisplayName(), ContentID: "c" + it.DisplayName()}
	}
	return out
}

// fakeStore is an in-memory db.Store.
type fakeStore struct {
	pingErr error
	rows    []db.CopydeskBatch
	listArg db.ListRecentBatchesParams
}

func (f *fakeStore) Ping(context.Context) error                             { return f.pingErr }
func (f *fakeStore) InsertBatch(context.Context, db.InsertBatchParams) error { return nil }
func (f *fakeStore) FinishBatch(context.Context, db.FinishBatchParams) error { return nil }
func (f *fakeStore) AbandonOpenBatches(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) ListRecentBatches(_ context.Context, arg db.ListRecentBatchesParams) ([]db.CopydeskBatch, error) {
	f.listArg = arg
	return f.rows, nil
}

func newTestHandlers(t *testing.T, be batch.Backend) *Handlers {
	t.Helper()
	defaults, err := model.NewGenerationConfig(model.ContentTypeTitle, model.StyleProfessional, []string{"en"})
	require.NoError(t, err)
	m := batch.NewManager(batch.ManagerOptions{
		Backend:  be,
		Poll:     batch.PollOptions{Interval: 5 * time.Millisecond},
		Defaults: defaults,
	})
	t.Cleanup(m.Close)
	return &Handlers{
		Batches: m,
		Backend: backend.New("http://backend.test", ""),
	}
}

// newRequest builds a request authenticated as session with optional chi URL params.
func newRequest(method, target, session string, body io.Reader, params map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, body)
	ctx := context.WithValue(r.Context(), middleware.ContextKeySessionKey, session)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return r.WithContext(ctx)
}

func serve(fn http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fn(w, r)
	return w
}

func call(fn http.HandlerFunc, method, target, session string, body io.Reader, params map[string]string) *httptest.ResponseRecorder {
	return serve(fn, newRequest(method, target, session, body, params))
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	if s, ok := v.(string); ok {
		return strings.NewReader(s)
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type batchBody struct {
	Batch struct {
		BatchID   string      `json:"batch_id"`
		State     batch.State `json:"state"`
		Succeeded int         `json:"succeeded"`
		Failed    int         `json:"failed"`
		Progress  struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
		} `json:"progress"`
		Results []model.ResultItem `json:"results"`
	} `json:"batch"`
	Rejected []struct {
		Row    int    `json:"row"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	} `json:"rejected"`
	Cached bool `json:"cached"`
}
