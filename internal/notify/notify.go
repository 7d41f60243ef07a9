// Package notify announces finished batches to external systems.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/batch"
	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

const (
	EventBatchFinished       = "batch.finished"
	EventBatchDispatchFailed = "batch.dispatch_failed"

	defaultBatchSize     = 10
	defaultFlushInterval = 5 * time.Second
	sendTimeout          = 15 * time.Second
)

// Notification is the payload delivered to every sink.
type Notification struct {
	Event      string     `json:"event"`
	SessionKey string     `json:"session_key"`
	BatchID    string     `json:"batch_id,omitempty"`
	TaskID     string     `json:"task_id,omitempty"`
	Mode       string     `json:"mode,omitempty"`
	State      string     `json:"state"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	ExportURL  string     `json:"export_url,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Sink delivers a batch of notifications.
type Sink interface {
	Name() string
	Send(ctx context.Context, ns []Notification) error
}

// Options tunes the Notifier queue.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration

	// ExportURL, when set, fills Notification.ExportURL for batches with
	// successful items.
	ExportURL func(model.ExportRequest) string
	Logger    *zap.SugaredLogger
}

// Notifier is a batch.Observer that queues terminal batch events and flushes
// them to its sinks when the queue fills or the flush interval elapses.
// A failed flush is logged and dropped.
type Notifier struct {
	sinks     []Sink
	batchSize int
	interval  time.Duration
	exportURL func(model.ExportRequest) string
	log       *zap.SugaredLogger

	mu      sync.Mutex
	queue   []Notification
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

func New(sinks []Sink, opts Options) *Notifier {
	n := &Notifier{
		sinks:     sinks,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		exportURL: opts.ExportURL,
		log:       logs.OrNop(opts.Logger),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if n.batchSize <= 0 {
		n.batchSize = defaultBatchSize
	}
	if n.interval <= 0 {
		n.interval = defaultFlushInterval
	}
	return n
}

// Start begins the periodic flush goroutine.
func (n *Notifier) Start() {
	n.mu.Lock()
	if n.started || n.stopped {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		t := time.NewTicker(n.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				n.Flush(context.Background())
			case <-n.stopCh:
				return
			}
		}
	}()
}

// Stop ends the flush loop and sends whatever is still queued.
func (n *Notifier) Stop(ctx context.Context) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	started := n.started
	n.mu.Unlock()

	close(n.stopCh)
	if started {
		<-n.done
	}
	n.Flush(ctx)
}

func (n *Notifier) Observe(ctx context.Context, ev batch.Event) {
	var kind string
	switch ev.Kind {
	case batch.EventFinished:
		kind = EventBatchFinished
	case batch.EventDispatchFailed:
		kind = EventBatchDispatchFailed
	default:
		return
	}
	n.enqueue(ctx, n.build(kind, ev))
}

func (n *Notifier) build(kind string, ev batch.Event) Notification {
	snap := ev.Snapshot
	out := Notification{
		Event:      kind,
		SessionKey: snap.SessionKey,
		BatchID:    snap.BatchID,
		State:      string(snap.State),
		Succeeded:  snap.Succeeded,
		Failed:     snap.Failed,
		Error:      snap.Error,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	if snap.Task != nil {
		out.TaskID = snap.Task.TaskID
		out.Mode = string(snap.Task.Mode)
		out.Total = snap.Task.Total
	}
	if out.Error == "" && ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	if n.exportURL != nil {
		if req := snap.ExportRequest(); len(req.ContentIDs) > 0 {
			out.ExportURL = n.exportURL(req)
		}
	}
	return out
}

func (n *Notifier) enqueue(ctx context.Context, item Notification) {
	n.mu.Lock()
	n.queue = append(n.queue, item)
	full := len(n.queue) >= n.batchSize
	n.mu.Unlock()

	if full {
		n.Flush(ctx)
	}
}

// Flush sends every queued notification to each sink.
func (n *Notifier) Flush(ctx context.Context) {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	pending := n.queue
	n.queue = nil
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := n.send(ctx, pending); err != nil {
		n.log.Warnf("notify: flush failed (%d notifications dropped): %v", len(pending), err)
	}
}

func (n *Notifier) send(ctx context.Context, pending []Notification) error {
	var errs []error
	for _, s := range n.sinks {
		if err := s.Send(ctx, pending); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Pending reports how many notifications are queued.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}
