package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type CopydeskBatch struct {
	ID          string             `json:"id"`
	SessionKey  string             `json:"session_key"`
	TaskID      *string            `json:"task_id"`
	Mode        string             `json:"mode"`
	State       string             `json:"state"`
	Total       int32              `json:"total"`
	Completed   int32              `json:"completed"`
	Failed      int32              `json:"failed"`
	ContentType string             `json:"content_type"`
	Style       string             `json:"style"`
	Languages   []string           `json:"languages"`
	SuccessIds  []string           `json:"success_ids"`
	Error       *string            `json:"error"`
	StartedAt   pgtype.Timestamptz `json:"started_at"`
	FinishedAt  pgtype.Timestamptz `json:"finished_at"`
}
