package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caldre/arbot/internal/domain"
)

// ExecutionStore implements domain.RecordArchive using PostgreSQL. The
// ledger on local disk stays authoritative; this mirror exists for
// offline analysis and survives host loss.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Insert mirrors one execution record. Re-inserting the same record ID is
// a no-op so ledger replays stay idempotent.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO executions (
			id, executed_at, target, kind, success,
			trade_size, tip_paid, profit, attempts, bundle_id, err
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Time, rec.Target.Hex(), string(rec.Kind), rec.Success,
		rec.TradeSize, rec.TipPaid, rec.Profit, rec.Attempts, rec.BundleID, rec.Err,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// SumProfit returns total realized profit for records at or after the
// given Unix second.
func (s *ExecutionStore) SumProfit(ctx context.Context, since int64) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(profit), 0)
		FROM executions
		WHERE executed_at >= $1`

	var total float64
	if err := s.pool.QueryRow(ctx, query, time.Unix(since, 0).UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.RecordArchive = (*ExecutionStore)(nil)
