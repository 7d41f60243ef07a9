package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

// State is the lifecycle of a Session's current batch.
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the batch has finished, successfully or not.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrDispatchInFlight = errors.New("a batch is already being submitted")
	ErrSuperseded       = errors.New("batch was reset before dispatch finished")
	ErrTaskFailed       = errors.New("backend reported the task as failed")
	ErrSessionClosed    = errors.New("session is closed")
)

// Snapshot is a consistent copy of a Session's state.
type Snapshot struct {
	SessionKey string                 `json:"session_key"`
	BatchID    string                 `json:"batch_id,omitempty"`
	State      State                  `json:"state"`
	Task       *model.BatchTask       `json:"task,omitempty"`
	Progress   model.BatchProgress    `json:"progress"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	Results    []model.ResultItem     `json:"results"`
	Config     model.GenerationConfig `json:"config"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// ExportRequest selects the successful items of the snapshot's batch.
func (s Snapshot) ExportRequest() model.ExportRequest {
	return model.ExportRequest{ContentIDs: successIDs(s.Results)}
}

// Session owns one user's batch: a single poller, a single aggregator, and
// the state machine idle → submitted → polling → completed | failed.
// Every move back to idle or into a terminal state stops the poller.
type Session struct {
	key        string
	dispatcher *Dispatcher
	poller     *Poller
	agg        *Aggregator
	observers  []Observer
	log        *zap.SugaredLogger

	mu         sync.Mutex
	gen        uint64
	state      State
	batchID    string
	task       *model.BatchTask
	progress   model.BatchProgress
	defaults   model.GenerationConfig
	batchCfg   model.GenerationConfig
	lastErr    error
	startedAt  time.Time
	finishedAt time.Time
	changed    chan struct{}
	closed     bool
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithObservers registers observers notified of every batch event.
func WithObservers(obs ...Observer) SessionOption {
	return func(s *Session) { s.observers = append(s.observers, obs...) }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.SugaredLogger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates an idle session. defaults seeds the GenerationConfig
// used for new batches.
func NewSession(key string, d *Dispatcher, p *Poller, defaults model.GenerationConfig, opts ...SessionOption) *Session {
	s := &Session{
		key:        key,
		dispatcher: d,
		poller:     p,
		agg:        NewAggregator(),
		state:      StateIdle,
		defaults:   defaults,
		changed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logs.OrNop(s.log).With("session", key)
	return s
}

// Key identifies the session's owner.
func (s *Session) Key() string { return s.key }

// Start resets the session and dispatches items with the session's current
// config. Sync batches are terminal when Start returns; async batches keep
// polling in the background.
func (s *Session) Start(ctx context.Context, items []model.GenerationItem) (Snapshot, error) {
	if err := Validate(items); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.Snapshot(), ErrSessionClosed
	}
	if s.state == StateSubmitted {
		s.mu.Unlock()
		return s.Snapshot(), ErrDispatchInFlight
	}
	gen := s.resetLocked(StateSubmitted)
	s.batchID = uuid.NewString()
	s.batchCfg = s.defaults
	s.startedAt = time.Now()
	cfg := s.batchCfg
	s.mu.Unlock()

	// Waits for any previous poll goroutine, so none of its updates can land
	// after this point.
	s.poller.Stop()

	s.log.Infof("session: dispatching %d items mode=%s", len(items), s.dispatcher.ModeFor(len(items)))
	d, err := s.dispatcher.Dispatch(ctx, items, cfg)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return s.Snapshot(), ErrSuperseded
	}
	if err != nil {
		s.state = StateIdle
		s.lastErr = err
		s.broadcastLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Warnf("session: %v", err)
		s.notify(ctx, Event{Kind: EventDispatchFailed, Err: err, Snapshot: snap})
		return snap, err
	}

	task := d.Task
	s.task = &task
	if task.Mode == model.ModeSync {
		s.agg.Replace(d.Results)
		ok, bad := s.agg.Counts()
		s.progress = model.NewBatchProgress(task.Total, ok, bad)
		s.finishLocked(StateCompleted, nil)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Infof("session: sync batch completed succeeded=%d failed=%d", ok, bad)
		s.notify(ctx, Event{Kind: EventDispatched, Snapshot: snap})
		s.notify(ctx, Event{Kind: EventFinished, Snapshot: snap})
		return snap, nil
	}

	s.progress = model.NewBatchProgress(task.Total, 0, 0)
	s.state = StatePolling
	s.broadcastLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Infof("session: async task=%s total=%d polling", task.TaskID, task.Total)
	s.notify(ctx, Event{Kind: EventDispatched, Snapshot: snap})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StatePolling {
		return snap, nil
	}
	// Nothing else starts a poll without bumping gen, so the poller is idle
	// and Start cannot block here.
	s.poller.Start(task.TaskID, PollHandler{
		OnUpdate: func(st model.StatusResponse) { s.applyStatus(gen, st) },
		OnDone:   func(err error) { s.pollDone(gen, err) },
	})
	return snap, nil
}

// Reset stops polling and returns the session to idle. Nothing is sent to
// the backend; an abandoned task keeps running there.
func (s *Session) Reset() {
	s.mu.Lock()
	wasIdle := s.state == StateIdle && s.task == nil
	s.resetLocked(StateIdle)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.poller.Stop()
	if !wasIdle {
		s.log.Infof("session: reset")
		s.notify(context.Background(), Event{Kind: EventReset, Snapshot: snap})
	}
}

// Close stops polling without changing the visible state or notifying
// observers. Used at shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.mu.Unlock()
	s.poller.Stop()
}

// closeIfIdle marks the session closed unless a batch is in flight. The check
// and the mark happen under one lock, so a concurrent Start either wins and
// keeps the session alive or sees ErrSessionClosed.
func (s *Session) closeIfIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitted || s.state == StatePolling {
		return false
	}
	s.closed = true
	return true
}

// resetLocked bumps the generation so in-flight callbacks are discarded,
// then clears the batch. The caller stops the poller after unlocking.
func (s *Session) resetLocked(next State) uint64 {
	s.gen++
	s.state = next
	s.batchID = ""
	s.task = nil
	s.progress = model.BatchProgress{}
	s.lastErr = nil
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
	s.agg.Reset()
	s.broadcastLocked()
	return s.gen
}

func (s *Session) applyStatus(gen uint64, st model.StatusResponse) {
	s.mu.Lock()
	if gen != s.gen || s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.agg.Replace(st.Results)
	if st.Status != "" {
		s.task.Advance(st.Status)
	}
	total := st.Progress.Total
	if total == 0 {
		total = s.task.Total
	}
	s.progress = model.NewBatchProgress(total, st.Progress.Completed, st.Progress.Failed)
	s.broadcastLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(context.Background(), Event{Kind: EventProgress, Status: st.Status, Snapshot: snap})
}

func (s *Session) pollDone(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		s.task.Advance(model.TaskStatusFailed)
		s.finishLocked(StateFailed, err)
	case s.task.Status == model.TaskStatusFailed:
		s.finishLocked(StateFailed, ErrTaskFailed)
	default:
		s.finishLocked(StateCompleted, nil)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warnf("session: task=%s polling ended: %v", snap.Task.TaskID, err)
	} else {
		s.log.Infof("session: task=%s %s succeeded=%d failed=%d", snap.Task.TaskID, snap.State, snap.Succeeded, snap.Failed)
	}
	s.notify(context.Background(), Event{Kind: EventFinished, Err: err, Snapshot: snap})
}

func (s *Session) finishLocked(state State, err error) {
	s.state = state
	s.lastErr = err
	s.finishedAt = time.Now()
	s.broadcastLocked()
}

// broadcastLocked wakes every Wait caller.
func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Wait blocks until the current batch is no longer submitted or polling.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		if s.state != StateSubmitted && s.state != StatePolling {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	ok, bad := s.agg.Counts()
	snap := Snapshot{
		SessionKey: s.key,
		BatchID:    s.batchID,
		State:      s.state,
		Progress:   s.progress,
		Succeeded:  ok,
		Failed:     bad,
		Results:    s.agg.Results(),
		Config:     s.batchCfg,
	}
	if snap.Results == nil {
		snap.Results = []model.ResultItem{}
	}
	if s.batchID == "" {
		snap.Config = s.defaults
	}
	if s.task != nil {
		t := *s.task
		snap.Task = &t
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// LastError is the dispatch or poll error of the current batch, if any.
// Unlike Snapshot.Error it keeps the error chain (ErrDispatch, ErrPoll, ErrTaskFailed).
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Config returns the config the next batch will use.
func (s *Session) Config() model.GenerationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetConfig replaces the config for later batches. A running batch keeps
// the config it was started with.
func (s *Session) SetConfig(cfg model.GenerationConfig) error {
	if len(cfg.Languages()) == 0 || !cfg.ContentType.IsValid() || !cfg.Style.IsValid() {
		return fmt.Errorf("%w: incomplete config", model.ErrInvalidConfig)
	}
	s.mu.Lock()
	s.defaults = cfg.Clone()
	s.mu.Unlock()
	return nil
}

// ToggleLanguage flips code in the config for later batches. Deselecting
// the last language is refused and reported as false.
func (s *Session) ToggleLanguage(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.defaults.Clone()
	if !cfg.ToggleLanguage(code) {
		return false
	}
	s.defaults = cfg
	return true
}

func (s *Session) notify(ctx context.Context, ev Event) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Errorf("session: observer panicked on %s: %v", ev.Kind, r)
				}
			}()
			o.Observe(ctx, ev)
		}()
	}
}
