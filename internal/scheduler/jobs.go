package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
)

// SessionEvictor is satisfied by *batch.Manager.
type SessionEvictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// SessionSweepJob drops in-memory sessions nobody has touched for MaxIdle.
// Their last snapshot stays in the cache until its own TTL.
type SessionSweepJob struct {
	Sessions SessionEvictor
	MaxIdle  time.Duration
	Log      *zap.SugaredLogger
}

func (j *SessionSweepJob) Name() string { return "session_sweep" }

func (j *SessionSweepJob) Run(_ context.Context) error {
	if n := j.Sessions.EvictIdle(j.MaxIdle); n > 0 {
		logs.OrNop(j.Log).Infof("scheduler: session_sweep: evicted %d idle sessions", n)
	}
	return nil
}

// HistoryPruner is satisfied by *db.Queries.
type HistoryPruner interface {
	DeleteBatchesBefore(ctx context.Context, finishedAt pgtype.Timestamptz) (int64, error)
}

// HistoryCleanupJob deletes finished batch history older than Retention.
type HistoryCleanupJob struct {
	DB        HistoryPruner
	Retention time.Duration // e.g., 90 days
	Log       *zap.SugaredLogger
	now       func() time.Time
}

func (j *HistoryCleanupJob) Name() string { return "history_cleanup" }

func (j *HistoryCleanupJob) Run(ctx context.Context) error {
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().Add(-j.Retention)
	n, err := j.DB.DeleteBatchesBefore(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return err
	}
	if n > 0 {
		logs.OrNop(j.Log).Infof("scheduler: history_cleanup: deleted %d batches finished before %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}
