package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/model"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(_ context.Context, ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestSession(t *testing.T, fb *fakeBackend, opts PollOptions, obs ...Observer) *Session {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = testInterval
	}
	s := NewSession("alice", NewDispatcher(fb, 0), NewPoller(fb, opts), testConfig(t), WithObservers(obs...))
	t.Cleanup(s.Reset)
	return s
}

func waitTerminal(t *testing.T, s *Session) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	require.NoError(t, err)
	return snap
}

// 5 catalog items: one sync submit, results land directly, nothing polls.
func TestSession_SyncBatch(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = syncReply(okResult("p1", "c1"), okResult("p2", "c2"), failResult("p3", "upstream error"), okResult("p4", "c4"), okResult("p5", "c5"))
	events := &eventLog{}
	s := newTestSession(t, fb, PollOptions{}, events)

	snap, err := s.Start(context.Background(), refItems(5))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, model.ModeSync, snap.Task.Mode)
	assert.Empty(t, snap.Task.TaskID)
	assert.Len(t, snap.Results, 5)
	assert.Equal(t, 4, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, model.NewBatchProgress(5, 4, 1), snap.Progress)
	assert.NotEmpty(t, snap.BatchID)
	assert.NotNil(t, snap.FinishedAt)

	assert.Equal(t, 1, fb.submitCount())
	assert.False(t, s.poller.Active())
	assert.Equal(t, []string{"c1", "c2", "c4", "c5"}, s.Snapshot().ExportRequest().ContentIDs)
	assert.Equal(t, []EventKind{EventDispatched, EventFinished}, events.kinds())

	assert.Equal(t, snap.State, waitTerminal(t, s).State)
}

// 25 items: async submit, three ticks at 10/20/25, polling stops on completed.
func TestSession_AsyncBatch(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 25)
	fb.statusFn = func(taskID string, call int) (model.StatusResponse, error) {
		if taskID != "t1" {
			return model.StatusResponse{}, errors.New("unknown task")
		}
		switch call {
		case 1:
			return running(10, 25), nil
		case 2:
			return running(20, 25), nil
		default:
			return model.StatusResponse{
				Status:   model.TaskStatusCompleted,
				Progress: model.NewBatchProgress(25, 25, 0),
				Results:  okResults(25),
			}, nil
		}
	}
	events := &eventLog{}
	s := newTestSession(t, fb, PollOptions{}, events)

	snap, err := s.Start(context.Background(), refItems(25))
	require.NoError(t, err)
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, "t1", snap.Task.TaskID)
	assert.Equal(t, 25, snap.Task.Total)
	assert.True(t, fb.lastSubmit().Async)

	final := waitTerminal(t, s)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, model.TaskStatusCompleted, final.Task.Status)
	assert.Equal(t, 25, final.Progress.Completed)
	assert.Zero(t, final.Progress.Failed)
	assert.InDelta(t, 100.0, final.Progress.Percent, 0.001)
	assert.Len(t, s.Snapshot().ExportRequest().ContentIDs, 25)
	assert.NoError(t, s.LastError())

	time.Sleep(5 * testInterval)
	assert.Equal(t, 3, fb.pollCount("t1"))
	assert.Equal(t, []EventKind{EventDispatched, EventProgress, EventProgress, EventProgress, EventFinished}, events.kinds())
}

func TestSession_ProgressNeverExceedsTotal(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 12)
	fb.statusFn = func(_ string, call int) (model.StatusResponse, error) {
		if call < 3 {
			// over-reporting backend
			return model.StatusResponse{
				Status:   model.TaskStatusRunning,
				Progress: model.BatchProgress{Total: 12, Completed: 10, Failed: 9},
			}, nil
		}
		return model.StatusResponse{Status: model.TaskStatusCompleted, Progress: model.BatchProgress{Completed: 15}}, nil
	}
	var mu sync.Mutex
	var seen []model.BatchProgress
	obs := ObserverFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		seen = append(seen, ev.Snapshot.Progress)
		mu.Unlock()
	})
	s := newTestSession(t, fb, PollOptions{}, obs)

	_, err := s.Start(context.Background(), refItems(12))
	require.NoError(t, err)
	waitTerminal(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, p := range seen {
		assert.LessOrEqual(t, p.Completed+p.Failed, p.Total)
		assert.LessOrEqual(t, p.Percent, 100.0)
	}
	assert.Equal(t, 12, seen[len(seen)-1].Total)
}

// A transport error on a tick ends polling at once and fails the batch.
func TestSession_PollErrorFailsBatch(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 25)
	fb.statusFn = func(_ string, call int) (model.StatusResponse, error) {
		if call == 1 {
			return running(10, 25), nil
		}
		return model.StatusResponse{}, errors.New("connection reset")
	}
	events := &eventLog{}
	s := newTestSession(t, fb, PollOptions{}, events)

	_, err := s.Start(context.Background(), refItems(25))
	require.NoError(t, err)

	final := waitTerminal(t, s)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, model.TaskStatusFailed, final.Task.Status)
	assert.Contains(t, final.Error, "connection reset")
	assert.ErrorIs(t, s.LastError(), ErrPoll)
	// results from the last good tick are kept
	assert.Equal(t, 10, final.Succeeded)

	time.Sleep(5 * testInterval)
	assert.Equal(t, 2, fb.pollCount("t1"))

	kinds := events.kinds()
	assert.Equal(t, EventFinished, kinds[len(kinds)-1])
}

func TestSession_BackendReportsFailedTask(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 11)
	fb.statusFn = func(string, int) (model.StatusResponse, error) {
		return model.StatusResponse{
			Status:   model.TaskStatusFailed,
			Progress: model.NewBatchProgress(11, 3, 8),
			Results:  append(okResults(3), failResult("p4", "quota exceeded")),
		}, nil
	}
	s := newTestSession(t, fb, PollOptions{})

	_, err := s.Start(context.Background(), refItems(11))
	require.NoError(t, err)

	final := waitTerminal(t, s)
	assert.Equal(t, StateFailed, final.State)
	assert.ErrorIs(t, s.LastError(), ErrTaskFailed)
	assert.Equal(t, 3, final.Succeeded)
	assert.Equal(t, 1, final.Failed)
}

// Starting a new batch while the old task is still polling: nothing from the
// old task lands after the reset.
func TestSession_NewBatchSupersedesOldPoll(t *testing.T) {
	fb := newFakeBackend()
	fb.statusFn = func(taskID string, _ int) (model.StatusResponse, error) {
		if taskID == "old" {
			return model.StatusResponse{
				Status:   model.TaskStatusRunning,
				Progress: model.NewBatchProgress(30, 7, 0),
				Results:  []model.ResultItem{okResult("stale", "old-c1")},
			}, nil
		}
		return model.StatusResponse{}, errors.New("unknown task")
	}
	fb.submitFn = asyncReply("old", 30)
	s := newTestSession(t, fb, PollOptions{})

	_, err := s.Start(context.Background(), refItems(30))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Snapshot().Succeeded == 1 }, time.Second, time.Millisecond)

	fb.mu.Lock()
	fb.submitFn = syncReply(okResult("fresh", "new-c1"), okResult("fresh2", "new-c2"))
	fb.mu.Unlock()

	snap, err := s.Start(context.Background(), refItems(2))
	require.NoError(t, err)
	oldPolls := fb.pollCount("old")

	time.Sleep(10 * testInterval)
	assert.Equal(t, oldPolls, fb.pollCount("old"))

	after := s.Snapshot()
	assert.Equal(t, StateCompleted, after.State)
	assert.Equal(t, snap.BatchID, after.BatchID)
	assert.Equal(t, []string{"new-c1", "new-c2"}, s.Snapshot().ExportRequest().ContentIDs)
	assert.Equal(t, model.NewBatchProgress(2, 2, 0), after.Progress)
	for _, r := range after.Results {
		assert.NotEqual(t, "stale", r.Name)
	}
}

func TestSession_DispatchFailureReturnsToIdle(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
		return model.SubmitResponse{}, errors.New("dial tcp: connection refused")
	}
	events := &eventLog{}
	s := newTestSession(t, fb, PollOptions{}, events)

	snap, err := s.Start(context.Background(), refItems(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Task)
	assert.Contains(t, snap.Error, "connection refused")
	assert.ErrorIs(t, s.LastError(), ErrDispatch)
	assert.Equal(t, []EventKind{EventDispatchFailed}, events.kinds())
}

func TestSession_ValidationErrorDispatchesNothing(t *testing.T) {
	fb := newFakeBackend()
	s := newTestSession(t, fb, PollOptions{})

	_, err := s.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoItems)
	assert.Zero(t, fb.submitCount())
	assert.Equal(t, StateIdle, s.Snapshot().State)
}

func TestSession_RejectsSecondDispatchInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	fb := newFakeBackend()
	fb.submitFn = func(ctx context.Context, req model.SubmitRequest) (model.SubmitResponse, error) {
		close(entered)
		<-release
		return syncReply(okResult("A", "c1"))(ctx, req)
	}
	s := newTestSession(t, fb, PollOptions{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background(), refItems(1))
		errc <- err
	}()
	<-entered
	assert.Equal(t, StateSubmitted, s.Snapshot().State)

	_, err := s.Start(context.Background(), refItems(1))
	assert.ErrorIs(t, err, ErrDispatchInFlight)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, fb.submitCount())
	assert.Equal(t, StateCompleted, s.Snapshot().State)
}

func TestSession_ResetDuringDispatch(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	fb := newFakeBackend()
	fb.submitFn = func(context.Context, model.SubmitRequest) (model.SubmitResponse, error) {
		close(entered)
		<-release
		return model.SubmitResponse{Async: &model.AsyncSubmit{TaskID: "t1", Total: 20}}, nil
	}
	s := newTestSession(t, fb, PollOptions{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background(), refItems(20))
		errc <- err
	}()
	<-entered
	s.Reset()
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.False(t, s.poller.Active())
	assert.Zero(t, fb.pollCount("t1"))
}

func TestSession_ResetStopsPolling(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 25)
	fb.statusFn = func(string, int) (model.StatusResponse, error) { return running(5, 25), nil }
	events := &eventLog{}
	s := newTestSession(t, fb, PollOptions{}, events)

	_, err := s.Start(context.Background(), refItems(25))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fb.pollCount("t1") >= 1 }, time.Second, time.Millisecond)

	s.Reset()
	polls := fb.pollCount("t1")
	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Task)
	assert.Empty(t, snap.Results)
	assert.Empty(t, snap.BatchID)

	time.Sleep(5 * testInterval)
	assert.Equal(t, polls, fb.pollCount("t1"))
	kinds := events.kinds()
	assert.Equal(t, EventReset, kinds[len(kinds)-1])

	// Wait on an idle session returns at once.
	assert.Equal(t, StateIdle, waitTerminal(t, s).State)
}

func TestSession_WaitHonorsContext(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 25)
	fb.statusFn = func(string, int) (model.StatusResponse, error) { return running(1, 25), nil }
	s := newTestSession(t, fb, PollOptions{})

	_, err := s.Start(context.Background(), refItems(25))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePolling, snap.State)
}

func TestSession_ConfigIsCopiedPerBatch(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = syncReply(okResult("A", "c1"))
	s := newTestSession(t, fb, PollOptions{})

	assert.True(t, s.ToggleLanguage("zh"))
	snap, err := s.Start(context.Background(), refItems(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "zh"}, snap.Config.Languages())
	assert.Equal(t, []string{"en", "zh"}, fb.lastSubmit().Languages)

	assert.True(t, s.ToggleLanguage("en"))
	assert.Equal(t, []string{"en", "zh"}, s.Snapshot().Config.Languages())
	assert.Equal(t, []string{"zh"}, s.Config().Languages())

	// the last language cannot be deselected
	assert.False(t, s.ToggleLanguage("zh"))
	assert.Equal(t, []string{"zh"}, s.Config().Languages())
}

func TestSession_SetConfig(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), PollOptions{})

	cfg, err := model.NewGenerationConfig(model.ContentTypeTitle, model.StylePlayful, []string{"ja"})
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(cfg))
	assert.Equal(t, model.StylePlayful, s.Config().Style)

	assert.ErrorIs(t, s.SetConfig(model.GenerationConfig{}), model.ErrInvalidConfig)
	assert.Equal(t, []string{"ja"}, s.Config().Languages())
}

func TestSession_ObserverPanicIsContained(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = syncReply(okResult("A", "c1"))
	events := &eventLog{}
	boom := ObserverFunc(func(context.Context, Event) { panic("observer bug") })
	s := newTestSession(t, fb, PollOptions{}, boom, events)

	snap, err := s.Start(context.Background(), refItems(1))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, []EventKind{EventDispatched, EventFinished}, events.kinds())
}

func TestManager_OneSessionPerKey(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = syncReply(okResult("A", "c1"))
	m := NewManager(ManagerOptions{Backend: fb, Defaults: testConfig(t), Poll: PollOptions{Interval: testInterval}})
	t.Cleanup(m.Close)

	a := m.Session("alice")
	assert.Same(t, a, m.Session("alice"))
	b := m.Session("bob")
	assert.NotSame(t, a, b)
	assert.NotSame(t, a.poller, b.poller)

	_, ok := m.Lookup("carol")
	assert.False(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, m.Keys())

	assert.True(t, a.ToggleLanguage("fr"))
	assert.Equal(t, []string{"en"}, b.Config().Languages())
}

func TestManager_EvictIdle(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 20)
	fb.statusFn = func(string, int) (model.StatusResponse, error) { return running(1, 20), nil }
	m := NewManager(ManagerOptions{Backend: fb, Defaults: testConfig(t), Poll: PollOptions{Interval: testInterval}})
	t.Cleanup(m.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Session("idle")
	busy := m.Session("busy")
	_, err := busy.Start(context.Background(), refItems(20))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	m.Session("recent")
	now = now.Add(45 * time.Minute)

	assert.Equal(t, 1, m.EvictIdle(time.Hour))
	assert.Equal(t, []string{"busy", "recent"}, m.Keys())

	busy.Reset()
	assert.Equal(t, 1, m.EvictIdle(time.Hour))
	assert.Equal(t, []string{"recent"}, m.Keys())
}

// A handler that fetched a session before it was evicted cannot start an
// unreachable batch on it.
func TestManager_EvictedSessionRefusesStart(t *testing.T) {
	fb := newFakeBackend()
	fb.submitFn = asyncReply("t1", 20)
	fb.statusFn = func(string, int) (model.StatusResponse, error) { return running(1, 20), nil }
	m := NewManager(ManagerOptions{Backend: fb, Defaults: testConfig(t), Poll: PollOptions{Interval: testInterval}})
	t.Cleanup(m.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale := m.Session("alice")
	now = now.Add(2 * time.Hour)
	require.Equal(t, 1, m.EvictIdle(time.Hour))

	_, err := stale.Start(context.Background(), refItems(20))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, fb.submitCount())

	fresh := m.Session("alice")
	assert.NotSame(t, stale, fresh)
	snap, err := fresh.Start(context.Background(), refItems(20))
	require.NoError(t, err)
	assert.Equal(t, StatePolling, snap.State)
}
