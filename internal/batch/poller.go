package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollDuration = 30 * time.Minute
	DefaultMaxPollErrors   = 1
)

var (
	ErrPoll        = errors.New("poll failed")
	ErrPollTimeout = errors.New("poll exceeded maximum duration")
)

// PollOptions tunes a Poller. Zero values take the defaults.
type PollOptions struct {
	Interval    time.Duration
	MaxDuration time.Duration
	// MaxErrors is the number of consecutive failed status queries that
	// end polling. 1 aborts on the first error.
	MaxErrors int
	Logger    *zap.SugaredLogger
}

// PollHandler receives a poll's updates. Both callbacks run on the poll
// goroutine, one at a time, and never after Stop has returned.
type PollHandler struct {
	OnUpdate func(model.StatusResponse)
	// OnDone is called once when polling ends on its own: err is nil on a
	// terminal status. It is not called when the poll is stopped.
	OnDone func(err error)
}

// Poller queries one task's status at a fixed interval. It runs at most one
// poll at a time; Start replaces any running poll.
type Poller struct {
	backend     Backend
	interval    time.Duration
	maxDuration time.Duration
	maxErrors   int
	log         *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	taskID string
}

func NewPoller(b Backend, opts PollOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxPollDuration
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxPollErrors
	}
	return &Poller{
		backend:     b,
		interval:    opts.Interval,
		maxDuration: opts.MaxDuration,
		maxErrors:   opts.MaxErrors,
		log:         logs.OrNop(opts.Logger),
	}
}

// Start stops any running poll, then begins polling taskID.
func (p *Poller) Start(taskID string, h PollHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	prevCancel, prevDone := p.cancel, p.done
	p.cancel, p.done, p.taskID = cancel, done, taskID
	p.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	go p.run(ctx, done, taskID, h)
}

// TaskID returns the task of the most recent Start, or "" after Stop.
func (p *Poller) TaskID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskID
}

// Stop cancels the running poll and waits for its goroutine to exit.
// It must not be called from a PollHandler callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done, p.taskID = nil, nil, ""
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether a poll goroutine is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}, taskID string, h PollHandler) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.maxDuration)
	defer deadline.Stop()

	p.log.Debugf("poller: started task=%s interval=%s", taskID, p.interval)
	errCount := 0

	for {
		select {
		case <-ctx.Done():
			p.log.Debugf("poller: stopped task=%s", taskID)
			return
		case <-deadline.C:
			p.log.Warnf("poller: task=%s still running after %s, giving up", taskID, p.maxDuration)
			p.finish(h, fmt.Errorf("%w: task %s after %s", ErrPollTimeout, taskID, p.maxDuration))
			return
		case <-ticker.C:
		}

		st, err := p.backend.GetBatchStatus(ctx, taskID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			errCount++
			p.log.Warnf("poller: task=%s status query failed (%d/%d): %v", taskID, errCount, p.maxErrors, err)
			if errCount >= p.maxErrors {
				p.finish(h, fmt.Errorf("%w: %w", ErrPoll, err))
				return
			}
			continue
		}
		errCount = 0

		if !p.deliver(h, st) {
			return
		}
		if st.Status.IsTerminal() {
			p.log.Debugf("poller: task=%s reached %s", taskID, st.Status)
			p.finish(h, nil)
			return
		}
	}
}

// deliver runs OnUpdate, turning a panic into a poll failure.
func (p *Poller) deliver(h PollHandler, st model.StatusResponse) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("poller: update handler panicked: %v", r)
			p.finish(h, fmt.Errorf("%w: update handler panicked: %v", ErrPoll, r))
			ok = false
		}
	}()
	if h.OnUpdate != nil {
		h.OnUpdate(st)
	}
	return true
}

func (p *Poller) finish(h PollHandler, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("poller: done handler panicked: %v", r)
		}
	}()
	if h.OnDone != nil {
		h.OnDone(err)
	}
}
