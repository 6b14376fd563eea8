package scheduler

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/applier-service/internal/model"
)

// StatsStore persists per-cycle statistics for observability.
type StatsStore interface {
	Save(ctx context.Context, stats *model.CycleStats) error
}

// PGStatsStore writes the cycle_stats table.
type PGStatsStore struct {
	pool *pgxpool.Pool
}

// NewPGStatsStore returns a StatsStore backed by PostgreSQL.
func NewPGStatsStore(pool *pgxpool.Pool) *PGStatsStore {
	return &PGStatsStore{pool: pool}
}

func (s *PGStatsStore) Save(ctx context.Context, stats *model.CycleStats) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycle_stats
		   (cycle_id, model_version, started_at, finished_at,
		    users_processed, users_failed, scored, submitted, retried, failures)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		stats.CycleID, stats.ModelVersion, stats.StartedAt, stats.FinishedAt,
		stats.UsersProcessed, stats.UsersFailed, stats.Scored,
		stats.Submitted, stats.Retried, stats.Failures,
	)
	if err != nil {
		return fmt.Errorf("insert cycle stats: %w", err)
	}
	return nil
}
