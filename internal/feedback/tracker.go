// Package feedback records application outcome signals and aggregates them
// into the feature-weight deltas consumed by scoring model retraining.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/model"
	"jobmate/applier-service/internal/scoring"
)

// Per-signal deltas applied to every feature that contributed to the match.
// no_response only counts against a feature once its occurrences pass
// noResponseThreshold, so a few unanswered applications don't punish an
// otherwise healthy feature.
const (
	deltaHired     = 0.05
	deltaInterview = 0.02
	deltaRejected  = -0.01
	deltaNoReply   = -0.01

	noResponseThreshold = 3
)

var (
	// ErrUnknownSignal rejects a signal outside the known set.
	ErrUnknownSignal = errors.New("unknown feedback signal")
	// ErrApplicationNotFound means the referenced application does not exist.
	ErrApplicationNotFound = errors.New("application not found")
)

// Tracker is the exclusive creator of feedback events.
type Tracker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewTracker returns a Tracker backed by PostgreSQL.
func NewTracker(pool *pgxpool.Pool, logger *zap.Logger) *Tracker {
	return &Tracker{pool: pool, logger: logger}
}

// Record appends a feedback event for an application. Events are never
// updated or deleted; a correction is simply a newer event.
func (t *Tracker) Record(ctx context.Context, applicationID string, signal model.FeedbackSignal) (*model.FeedbackEvent, error) {
	switch signal {
	case model.SignalViewed, model.SignalRejected, model.SignalInterview,
		model.SignalHired, model.SignalNoResponse:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, signal)
	}

	ev := &model.FeedbackEvent{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		Signal:        signal,
		ObservedAt:    time.Now().UTC(),
	}

	tag, err := t.pool.Exec(ctx,
		`INSERT INTO feedback_events (id, application_id, signal, observed_at, model_version)
		 SELECT $1, $2, $3, $4, COALESCE((result_payload->>'modelVersion')::int, 0)
		 FROM applications WHERE id = $2`,
		ev.ID, ev.ApplicationID, string(ev.Signal), ev.ObservedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert feedback event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}

	t.logger.Debug("feedback recorded",
		zap.String("application_id", applicationID),
		zap.String("signal", string(signal)),
	)

	return ev, nil
}

// Aggregate folds all feedback observed on applications scored at or after
// sinceVersion into per-feature weight deltas, and reports how many events
// contributed. Implements scoring.Aggregator.
func (t *Tracker) Aggregate(ctx context.Context, sinceVersion int) (map[string]float64, int, error) {
	rows, err := t.pool.Query(ctx,
		`SELECT e.signal, a.result_payload->'rationale'
		 FROM feedback_events e
		 JOIN applications a ON a.id = e.application_id
		 WHERE e.model_version >= $1`,
		sinceVersion,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query feedback events: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Signal, &s.Rationale); err != nil {
			return nil, 0, fmt.Errorf("scan feedback event: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	deltas, n := Fold(samples)
	return deltas, n, nil
}

// Sample pairs one observed signal with the rationale tags of the match
// that produced the application.
type Sample struct {
	Signal    model.FeedbackSignal
	Rationale []string
}

// Fold turns raw (signal, rationale) samples into feature deltas. Split out
// from Aggregate so the arithmetic is testable without a database.
func Fold(samples []Sample) (map[string]float64, int) {
	deltas := make(map[string]float64)
	noReplies := make(map[string]int)

	for _, s := range samples {
		for _, tag := range s.Rationale {
			feature := scoring.FeatureOf(tag)
			if feature == "" {
				continue
			}

			switch s.Signal {
			case model.SignalHired:
				deltas[feature] += deltaHired
			case model.SignalInterview:
				deltas[feature] += deltaInterview
			case model.SignalRejected:
				deltas[feature] += deltaRejected
			case model.SignalNoResponse:
				noReplies[feature]++
			}
		}
	}

	for feature, n := range noReplies {
		if n >= noResponseThreshold {
			deltas[feature] += float64(n) * deltaNoReply
		}
	}

	return deltas, len(samples)
}
