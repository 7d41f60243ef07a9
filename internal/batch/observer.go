package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/cache"
	"github.com/praxisllmlab/copydesk/internal/db"
	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/metrics"
	"github.com/praxisllmlab/copydesk/internal/model"
)

// EventKind labels a session event.
type EventKind string

const (
	EventDispatched     EventKind = "dispatched"
	EventDispatchFailed EventKind = "dispatch_failed"
	EventProgress       EventKind = "progress"
	EventFinished       EventKind = "finished"
	EventReset          EventKind = "reset"
)

// Event is delivered to observers after the session lock is released.
// Events of one session arrive in order.
type Event struct {
	Kind     EventKind
	Status   model.TaskStatus // EventProgress only
	Err      error
	Snapshot Snapshot
}

// Observer reacts to session events. Observe must not call back into the session.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// SnapshotObserver stores the latest snapshot of each session in a cache.
type SnapshotObserver struct {
	cache cache.Cache
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewSnapshotObserver(c cache.Cache, ttl time.Duration, log *zap.SugaredLogger) *SnapshotObserver {
	return &SnapshotObserver{cache: c, ttl: ttl, log: logs.OrNop(log)}
}

func (o *SnapshotObserver) Observe(ctx context.Context, ev Event) {
	key := cache.SessionKey(ev.Snapshot.SessionKey)
	if ev.Kind == EventReset {
		if err := o.cache.Delete(ctx, key); err != nil {
			o.log.Warnf("snapshot: delete %s: %v", key, err)
		}
		return
	}
	data, err := json.Marshal(ev.Snapshot)
	if err != nil {
		o.log.Warnf("snapshot: marshal: %v", err)
		return
	}
	if err := o.cache.Set(ctx, key, data, o.ttl); err != nil {
		o.log.Warnf("snapshot: set %s: %v", key, err)
	}
}

// LoadSnapshot reads a session's cached snapshot. ok is false on a miss.
func LoadSnapshot(ctx context.Context, c cache.Cache, sessionKey string) (snap Snapshot, ok bool, err error) {
	data, err := c.Get(ctx, cache.SessionKey(sessionKey))
	if err != nil || data == nil {
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return snap, true, nil
}

// HistoryObserver records dispatched batches and their outcome in Postgres.
type HistoryObserver struct {
	store db.Store
	log   *zap.SugaredLogger
}

func NewHistoryObserver(store db.Store, log *zap.SugaredLogger) *HistoryObserver {
	return &HistoryObserver{store: store, log: logs.OrNop(log)}
}

func (o *HistoryObserver) Observe(ctx context.Context, ev Event) {
	snap := ev.Snapshot
	if snap.BatchID == "" || snap.Task == nil {
		return
	}
	switch ev.Kind {
	case EventDispatched:
		var taskID *string
		if snap.Task.TaskID != "" {
			id := snap.Task.TaskID
			taskID = &id
		}
		started := time.Now()
		if snap.StartedAt != nil {
			started = *snap.StartedAt
		}
		err := o.store.InsertBatch(ctx, db.InsertBatchParams{
			ID:          snap.BatchID,
			SessionKey:  snap.SessionKey,
			TaskID:      taskID,
			Mode:        string(snap.Task.Mode),
			State:       string(snap.State),
			Total:       int32(snap.Task.Total),
			ContentType: string(snap.Config.ContentType),
			Style:       string(snap.Config.Style),
			Languages:   snap.Config.Languages(),
			StartedAt:   pgtype.Timestamptz{Time: started, Valid: true},
		})
		if err != nil {
			o.log.Warnf("history: insert batch %s: %v", snap.BatchID, err)
		}

	case EventFinished:
		var errText *string
		if snap.Error != "" {
			e := snap.Error
			errText = &e
		}
		finished := time.Now()
		if snap.FinishedAt != nil {
			finished = *snap.FinishedAt
		}
		err := o.store.FinishBatch(ctx, db.FinishBatchParams{
			ID:         snap.BatchID,
			State:      string(snap.State),
			Completed:  int32(snap.Succeeded),
			Failed:     int32(snap.Failed),
			SuccessIds: successIDs(snap.Results),
			Error:      errText,
			FinishedAt: pgtype.Timestamptz{Time: finished, Valid: true},
		})
		if err != nil {
			o.log.Warnf("history: finish batch %s: %v", snap.BatchID, err)
		}
	}
}

func successIDs(results []model.ResultItem) []string {
	ids := []string{}
	for _, r := range results {
		if r.Success && r.ContentID != "" {
			ids = append(ids, r.ContentID)
		}
	}
	return ids
}

// MetricsObserver feeds the Prometheus collector.
type MetricsObserver struct {
	m *metrics.Collector
}

func NewMetricsObserver(m *metrics.Collector) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) Observe(_ context.Context, ev Event) {
	switch ev.Kind {
	case EventDispatched:
		o.m.BatchDispatched(string(ev.Snapshot.Task.Mode))
	case EventDispatchFailed:
		o.m.DispatchFailed()
	case EventProgress:
		o.m.PollTick(string(ev.Status))
	case EventFinished:
		if errors.Is(ev.Err, ErrPoll) {
			o.m.PollTick("error")
		}
		snap := ev.Snapshot
		var elapsed time.Duration
		if snap.StartedAt != nil && snap.FinishedAt != nil {
			elapsed = snap.FinishedAt.Sub(*snap.StartedAt)
		}
		o.m.BatchFinished(string(snap.Task.Mode), string(snap.State), snap.Succeeded, snap.Failed, elapsed)
	}
}
