package db

import "context"

// Store is the history store used by the batch observer and HTTP handlers.
// It is satisfied by *Queries (compile-time check below).
type Store interface {
	Ping(ctx context.Context) error
	InsertBatch(ctx context.Context, arg InsertBatchParams) error
	FinishBatch(ctx context.Context, arg FinishBatchParams) error
	ListRecentBatches(ctx context.Context, arg ListRecentBatchesParams) ([]CopydeskBatch, error)
	AbandonOpenBatches(ctx context.Context, reason string) (int64, error)
}

var _ Store = (*Queries)(nil)

// Ping pings the database.
func (q *Queries) Ping(ctx context.Context) error {
	if p, ok := q.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
