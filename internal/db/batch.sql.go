package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertBatch = `-- name: InsertBatch :exec
INSERT INTO copydesk_batch (
    id, session_key, task_id, mode, state, total, content_type, style, languages, started_at
) VALUES (
    $1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (id) DO NOTHING
`

type InsertBatchParams struct {
	ID          string             `json:"id"`
	SessionKey  string             `json:"session_key"`
	TaskID      *string            `json:"task_id"`
	Mode        string             `json:"mode"`
	State       string             `json:"state"`
	Total       int32              `json:"total"`
	ContentType string             `json:"content_type"`
	Style       string             `json:"style"`
	Languages   []string           `json:"languages"`
	StartedAt   pgtype.Timestamptz `json:"started_at"`
}

func (q *Queries) InsertBatch(ctx context.Context, arg InsertBatchParams) error {
	_, err := q.db.Exec(ctx, insertBatch,
		arg.ID,
		arg.SessionKey,
		arg.TaskID,
		arg.Mode,
		arg.State,
		arg.Total,
		arg.ContentType,
		arg.Style,
		arg.Languages,
		arg.StartedAt,
	)
	return err
}

const finishBatch = `-- name: FinishBatch :exec
UPDATE copydesk_batch
SET state = $2,
    completed = $3,
    failed = $4,
    success_ids = $5,
    error = $6,
    finished_at = $7
WHERE id = $1::uuid
`

type FinishBatchParams struct {
	ID         string             `json:"id"`
	State      string             `json:"state"`
	Completed  int32              `json:"completed"`
	Failed     int32              `json:"failed"`
	SuccessIds []string           `json:"success_ids"`
	Error      *string            `json:"error"`
	FinishedAt pgtype.Timestamptz `json:"finished_at"`
}

func (q *Queries) FinishBatch(ctx context.Context, arg FinishBatchParams) error {
	_, err := q.db.Exec(ctx, finishBatch,
		arg.ID,
		arg.State,
		arg.Completed,
		arg.Failed,
		arg.SuccessIds,
		arg.Error,
		arg.FinishedAt,
	)
	return err
}

const listRecentBatches = `-- name: ListRecentBatches :many
SELECT id::text, session_key, task_id, mode, state, total, completed, failed,
       content_type, style, languages, success_ids, error, started_at, finished_at
FROM copydesk_batch
WHERE session_key = $1
ORDER BY started_at DESC
LIMIT $2
`

type ListRecentBatchesParams struct {
	SessionKey string `json:"session_key"`
	Limit      int32  `json:"limit"`
}

func (q *Queries) ListRecentBatches(ctx context.Context, arg ListRecentBatchesParams) ([]CopydeskBatch, error) {
	rows, err := q.db.Query(ctx, listRecentBatches, arg.SessionKey, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CopydeskBatch
	for rows.Next() {
		var i CopydeskBatch
		if err := rows.Scan(
			&i.ID,
			&i.SessionKey,
			&i.TaskID,
			&i.Mode,
			&i.State,
			&i.Total,
			&i.Completed,
			&i.Failed,
			&i.ContentType,
			&i.Style,
			&i.Languages,
			&i.SuccessIds,
			&i.Error,
			&i.StartedAt,
			&i.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const abandonOpenBatches = `-- name: AbandonOpenBatches :execrows
UPDATE copydesk_batch
SET state = 'failed',
    error = $1,
    finished_at = now()
WHERE finished_at IS NULL
`

// AbandonOpenBatches closes batches left open by a previous process. Their
// pollers died with it, so nothing will ever finish them.
func (q *Queries) AbandonOpenBatches(ctx context.Context, reason string) (int64, error) {
	result, err := q.db.Exec(ctx, abandonOpenBatches, reason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteBatchesBefore = `-- name: DeleteBatchesBefore :execrows
DELETE FROM copydesk_batch
WHERE finished_at IS NOT NULL AND finished_at < $1
`

func (q *Queries) DeleteBatchesBefore(ctx context.Context, finishedAt pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deleteBatchesBefore, finishedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
