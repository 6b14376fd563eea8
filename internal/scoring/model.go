package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ModelVersion is one immutable generation of the scoring model. A cycle
// pins exactly one version so every comparison inside it is consistent.
type ModelVersion struct {
	Version       int
	Weights       map[string]float64
	TrainedAt     time.Time
	FeedbackCount int
}

// VersionStore persists model generations.
type VersionStore interface {
	Latest(ctx context.Context) (*ModelVersion, error)
	Insert(ctx context.Context, mv *ModelVersion) error
}

// PGVersionStore keeps model versions in the model_versions table with the
// weight vector as JSONB.
type PGVersionStore struct {
	pool *pgxpool.Pool
}

// NewPGVersionStore returns a VersionStore backed by PostgreSQL.
func NewPGVersionStore(pool *pgxpool.Pool) *PGVersionStore {
	return &PGVersionStore{pool: pool}
}

// Latest returns the newest model version, or the built-in bootstrap
// version when no retraining run has happened yet.
func (s *PGVersionStore) Latest(ctx context.Context) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.pool.QueryRow(ctx,
		`SELECT version, weights, trained_at, feedback_count
		 FROM model_versions
		 ORDER BY version DESC
		 LIMIT 1`,
	).Scan(&mv.Version, &mv.Weights, &mv.TrainedAt, &mv.FeedbackCount)
	if err == pgx.ErrNoRows {
		return Bootstrap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query model_versions: %w", err)
	}

	return &mv, nil
}

// Insert stores a new generation. Versions are immutable; there is no update.
func (s *PGVersionStore) Insert(ctx context.Context, mv *ModelVersion) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_versions (version, weights, trained_at, feedback_count)
		 VALUES ($1, $2, $3, $4)`,
		mv.Version, mv.Weights, mv.TrainedAt, mv.FeedbackCount,
	)
	if err != nil {
		return fmt.Errorf("insert model version %d: %w", mv.Version, err)
	}
	return nil
}

// Bootstrap is the version used before any retraining has run.
func Bootstrap() *ModelVersion {
	return &ModelVersion{Version: 1, Weights: DefaultWeights()}
}

// Aggregator supplies feature-weight deltas derived from feedback observed
// since a given model version. Implemented by the feedback tracker.
type Aggregator interface {
	Aggregate(ctx context.Context, sinceVersion int) (map[string]float64, int, error)
}

// Retrainer produces new model generations from feedback aggregates. It is
// an explicit offline job (the retrain subcommand), never part of a cycle.
type Retrainer struct {
	store  VersionStore
	agg    Aggregator
	logger *zap.Logger
}

// NewRetrainer wires a Retrainer.
func NewRetrainer(store VersionStore, agg Aggregator, logger *zap.Logger) *Retrainer {
	return &Retrainer{store: store, agg: agg, logger: logger}
}

// Retrain folds accumulated deltas into the latest weight vector and inserts
// the result as a new immutable version. With no new feedback it is a no-op.
func (r *Retrainer) Retrain(ctx context.Context) (*ModelVersion, error) {
	current, err := r.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current model: %w", err)
	}

	deltas, events, err := r.agg.Aggregate(ctx, current.Version)
	if err != nil {
		return nil, fmt.Errorf("aggregate feedback: %w", err)
	}

	if events == 0 {
		r.logger.Info("no new feedback since current model, skipping retrain",
			zap.Int("version", current.Version),
		)
		return current, nil
	}

	weights := make(map[string]float64, len(current.Weights))
	for feature, w := range current.Weights {
		weights[feature] = clamp01(w + deltas[feature])
	}

	next := &ModelVersion{
		Version:       current.Version + 1,
		Weights:       weights,
		TrainedAt:     time.Now().UTC(),
		FeedbackCount: events,
	}

	if err := r.store.Insert(ctx, next); err != nil {
		return nil, err
	}

	r.logger.Info("retrained scoring model",
		zap.Int("previous_version", current.Version),
		zap.Int("version", next.Version),
		zap.Int("feedback_events", events),
	)

	return next, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
