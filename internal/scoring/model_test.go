package scoring_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"jobmate/applier-service/internal/scoring"
)

// fakeVersionStore keeps model versions in a slice.
type fakeVersionStore struct {
	versions []*scoring.ModelVersion
}

func (s *fakeVersionStore) Latest(context.Context) (*scoring.ModelVersion, error) {
	if len(s.versions) == 0 {
		return scoring.Bootstrap(), nil
	}
	return s.versions[len(s.versions)-1], nil
}

func (s *fakeVersionStore) Insert(_ context.Context, mv *scoring.ModelVersion) error {
	s.versions = append(s.versions, mv)
	return nil
}

// fakeAggregator returns a fixed delta set.
type fakeAggregator struct {
	deltas map[string]float64
	events int
}

func (a *fakeAggregator) Aggregate(context.Context, int) (map[string]float64, int, error) {
	return a.deltas, a.events, nil
}

func TestRetrain_NoFeedbackIsNoOp(t *testing.T) {
	store := &fakeVersionStore{}
	r := scoring.NewRetrainer(store, &fakeAggregator{events: 0}, zap.NewNop())

	mv, err := r.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain returned unexpected error: %v", err)
	}
	if mv.Version != 1 {
		t.Errorf("version = %d, want unchanged bootstrap version 1", mv.Version)
	}
	if len(store.versions) != 0 {
		t.Error("no new version should be inserted without feedback")
	}
}

func TestRetrain_ProducesNextVersion(t *testing.T) {
	store := &fakeVersionStore{}
	agg := &fakeAggregator{
		deltas: map[string]float64{
			scoring.FeatureSkillOverlap:  0.05,
			scoring.FeatureLocationExact: -0.02,
		},
		events: 12,
	}
	r := scoring.NewRetrainer(store, agg, zap.NewNop())

	mv, err := r.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain returned unexpected error: %v", err)
	}
	if mv.Version != 2 {
		t.Errorf("version = %d, want 2", mv.Version)
	}
	if mv.FeedbackCount != 12 {
		t.Errorf("FeedbackCount = %d, want 12", mv.FeedbackCount)
	}

	defaults := scoring.DefaultWeights()
	if got, want := mv.Weights[scoring.FeatureSkillOverlap], defaults[scoring.FeatureSkillOverlap]+0.05; got != want {
		t.Errorf("skill_overlap weight = %v, want %v", got, want)
	}
	if got, want := mv.Weights[scoring.FeatureLocationExact], defaults[scoring.FeatureLocationExact]-0.02; got != want {
		t.Errorf("location_exact weight = %v, want %v", got, want)
	}
	// Untouched features keep their previous weight.
	if got := mv.Weights[scoring.FeatureRoleMatch]; got != defaults[scoring.FeatureRoleMatch] {
		t.Errorf("role_match weight = %v, want unchanged %v", got, defaults[scoring.FeatureRoleMatch])
	}

	if len(store.versions) != 1 {
		t.Fatalf("inserted %d versions, want 1", len(store.versions))
	}
}

// Weights never leave [0,1] no matter how large the accumulated deltas get.
func TestRetrain_ClampsWeights(t *testing.T) {
	store := &fakeVersionStore{}
	agg := &fakeAggregator{
		deltas: map[string]float64{
			scoring.FeatureSkillOverlap:   5.0,
			scoring.FeatureLocationRemote: -5.0,
		},
		events: 3,
	}
	r := scoring.NewRetrainer(store, agg, zap.NewNop())

	mv, err := r.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain returned unexpected error: %v", err)
	}
	if got := mv.Weights[scoring.FeatureSkillOverlap]; got != 1 {
		t.Errorf("skill_overlap weight = %v, want clamped to 1", got)
	}
	if got := mv.Weights[scoring.FeatureLocationRemote]; got != 0 {
		t.Errorf("location_remote weight = %v, want clamped to 0", got)
	}
}

// Successive retrains with feedback keep versions strictly increasing.
func TestRetrain_VersionsIncrease(t *testing.T) {
	store := &fakeVersionStore{}
	agg := &fakeAggregator{deltas: map[string]float64{scoring.FeatureRoleMatch: 0.01}, events: 1}
	r := scoring.NewRetrainer(store, agg, zap.NewNop())

	for want := 2; want <= 4; want++ {
		mv, err := r.Retrain(context.Background())
		if err != nil {
			t.Fatalf("Retrain returned unexpected error: %v", err)
		}
		if mv.Version != want {
			t.Fatalf("version = %d, want %d", mv.Version, want)
		}
	}
}
