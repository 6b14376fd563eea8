// Package scheduler orchestrates the twice-daily matching and application
// cycle across all active users.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/application"
	"jobmate/applier-service/internal/model"
	"jobmate/applier-service/internal/posting"
	"jobmate/applier-service/internal/profile"
	"jobmate/applier-service/internal/quota"
	"jobmate/applier-service/internal/scoring"
)

// lockTTL bounds how long a crashed cycle can block the next trigger.
const lockTTL = 2 * time.Hour

// CycleConfig carries the tunables of one cycle run.
type CycleConfig struct {
	WorkerConcurrency int
	MaxPerCycle       int
	MinScore          float64
	PostingTTL        time.Duration
}

// Runner drives one complete cycle: snapshot, match, apply, record.
type Runner struct {
	profiles profile.Store
	postings posting.Store
	apps     application.Store
	executor *application.Executor
	versions scoring.VersionStore
	quota    quota.Counter
	lock     CycleLock
	stats    StatsStore
	cfg      CycleConfig
	logger   *zap.Logger

	now func() time.Time // injectable clock for tests
}

// NewRunner wires a cycle Runner.
func NewRunner(
	profiles profile.Store,
	postings posting.Store,
	apps application.Store,
	executor *application.Executor,
	versions scoring.VersionStore,
	counter quota.Counter,
	lock CycleLock,
	stats StatsStore,
	cfg CycleConfig,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		profiles: profiles,
		postings: postings,
		apps:     apps,
		executor: executor,
		versions: versions,
		quota:    counter,
		lock:     lock,
		stats:    stats,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one cycle. The only fatal outcomes are the CycleFatalError
// cases: lock contention and storage being unreachable for the snapshot.
// Everything narrower is isolated to the user or item that caused it, and a
// re-run after an interruption is idempotent — the executor's duplicate
// guard prevents double submission.
func (r *Runner) Run(ctx context.Context) (*model.CycleStats, error) {
	ok, err := r.lock.Acquire(ctx, lockTTL)
	if err != nil {
		return nil, &model.CycleFatalError{Err: err}
	}
	if !ok {
		return nil, &model.CycleFatalError{Err: fmt.Errorf("another cycle holds the lock")}
	}
	defer r.lock.Release(context.WithoutCancel(ctx))

	started := r.now().UTC()
	stats := &model.CycleStats{
		CycleID:   uuid.NewString(),
		StartedAt: started,
	}

	// One model version for the whole cycle — never switched mid-run, so
	// every comparison inside the cycle is consistent.
	mv, err := r.versions.Latest(ctx)
	if err != nil {
		return nil, &model.CycleFatalError{Err: fmt.Errorf("pin model version: %w", err)}
	}
	scorer := scoring.New(mv)
	stats.ModelVersion = mv.Version

	users, err := r.profiles.ListActive(ctx)
	if err != nil {
		return nil, &model.CycleFatalError{Err: fmt.Errorf("snapshot active users: %w", err)}
	}

	// Expired postings stay in the snapshot: a due retry against one must
	// fail permanently rather than dangle.
	since := started.Add(-r.cfg.PostingTTL)
	postings, err := r.postings.ListFresh(ctx, since, false)
	if err != nil {
		return nil, &model.CycleFatalError{Err: fmt.Errorf("snapshot postings: %w", err)}
	}

	byFingerprint := make(map[string]*model.JobPosting, len(postings))
	for i := range postings {
		byFingerprint[postings[i].Fingerprint] = &postings[i]
	}

	r.logger.Info("cycle started",
		zap.String("cycle_id", stats.CycleID),
		zap.Int("model_version", mv.Version),
		zap.Int("active_users", len(users)),
		zap.Int("postings", len(postings)),
	)

	var mu sync.Mutex
	tasks := make([]func(ctx context.Context), 0, len(users))
	for i := range users {
		user := users[i]
		tasks = append(tasks, func(ctx context.Context) {
			res, err := r.processUser(ctx, &user, scorer, postings, byFingerprint)

			mu.Lock()
			defer mu.Unlock()
			stats.UsersProcessed++
			stats.Scored += res.scored
			stats.Submitted += res.submitted
			stats.Retried += res.retried
			stats.Failures += res.failures
			if err != nil {
				stats.UsersFailed++
				r.logger.Warn("user processing failed, continuing cycle",
					zap.String("user_id", user.ID),
					zap.Error(err),
				)
			}
		})
	}

	runPool(ctx, r.cfg.WorkerConcurrency, tasks)

	stats.FinishedAt = r.now().UTC()
	if err := r.stats.Save(context.WithoutCancel(ctx), stats); err != nil {
		r.logger.Error("persisting cycle stats failed", zap.Error(err))
	}

	r.logger.Info("cycle complete",
		zap.String("cycle_id", stats.CycleID),
		zap.Int("users_processed", stats.UsersProcessed),
		zap.Int("users_failed", stats.UsersFailed),
		zap.Int("submitted", stats.Submitted),
		zap.Int("retried", stats.Retried),
		zap.Int("failures", stats.Failures),
		zap.Duration("took", stats.FinishedAt.Sub(stats.StartedAt)),
	)

	return stats, nil
}

// userResult accumulates what one user's slice of the cycle produced.
type userResult struct {
	scored    int
	submitted int
	retried   int
	failures  int
}

// processUser handles one user: records carried over from earlier runs first
// (due retries plus queued records an interrupted run left behind, in their
// original score order), then fresh candidates ranked under the pinned
// model. Within the user everything is sequential so quota accounting stays
// exact.
func (r *Runner) processUser(ctx context.Context, user *model.UserProfile, scorer *scoring.Scorer, postings []model.JobPosting, byFingerprint map[string]*model.JobPosting) (userResult, error) {
	var res userResult
	now := r.now().UTC()

	retries, err := r.apps.ListDueRetries(ctx, user.ID, now)
	if err != nil {
		return res, err
	}

	for i := range retries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		rec := &retries[i]
		p := byFingerprint[rec.Fingerprint]
		if p == nil {
			// Posting aged out of the snapshot entirely; the retry can
			// never succeed.
			p = &model.JobPosting{Fingerprint: rec.Fingerprint, Expired: true}
		}

		outcome, applied, err := r.applyOne(ctx, user, p, &model.MatchCandidate{
			UserID:       user.ID,
			Fingerprint:  rec.Fingerprint,
			Score:        rec.Payload.Score,
			Rationale:    rec.Payload.Rationale,
			ModelVersion: rec.Payload.ModelVersion,
		})
		if errors.Is(err, errQuotaExhausted) {
			// Not a failure: the user is simply done for today.
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if rec.State == application.StateFailedRetryable {
			res.retried++
		}
		res.tally(outcome, applied)
	}

	candidates := r.matchUser(user, scorer, postings)
	res.scored = len(candidates)

	selected, err := r.selectTop(ctx, user, candidates, now)
	if err != nil {
		return res, err
	}

	for _, c := range selected {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		candidate := c
		outcome, applied, err := r.applyOne(ctx, user, byFingerprint[c.Fingerprint], &candidate)
		if errors.Is(err, errQuotaExhausted) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.tally(outcome, applied)
	}

	return res, nil
}

// tally counts only work done in this cycle: a record another run already
// settled contributes nothing.
func (res *userResult) tally(state application.State, applied bool) {
	switch {
	case applied:
		res.submitted++
	case application.IsFailed(state):
		res.failures++
	}
}

// matchUser scores every eligible posting for the user. Below-threshold and
// zero-score candidates are discarded here and never recorded. The result
// is sorted by score descending with a deterministic tie-break.
func (r *Runner) matchUser(user *model.UserProfile, scorer *scoring.Scorer, postings []model.JobPosting) []model.MatchCandidate {
	prof := scoring.Profile{
		Skills:         user.Skills,
		Location:       user.Location,
		RemoteOK:       user.RemoteOK,
		RoleCategories: user.RoleCategories,
		SalaryFloor:    user.SalaryFloor,
	}

	var candidates []model.MatchCandidate
	for i := range postings {
		p := &postings[i]
		if p.Expired {
			continue
		}

		score, rationale := scorer.Score(prof, scoring.Posting{
			Title:          p.Title,
			Location:       p.Location,
			RemoteEligible: p.RemoteEligible,
			RequiredSkills: p.RequiredSkills,
			SalaryOffered:  p.SalaryOffered,
		})
		if score < r.cfg.MinScore {
			continue
		}

		candidates = append(candidates, model.MatchCandidate{
			UserID:       user.ID,
			Fingerprint:  p.Fingerprint,
			Score:        score,
			Rationale:    rationale,
			ModelVersion: scorer.Version(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Fingerprint < candidates[j].Fingerprint
	})

	return candidates
}

// selectTop drops candidates the user already has a record for and caps the
// rest at min(remaining daily quota, max-per-cycle).
func (r *Runner) selectTop(ctx context.Context, user *model.UserProfile, candidates []model.MatchCandidate, now time.Time) ([]model.MatchCandidate, error) {
	recorded, err := r.apps.RecordedFingerprints(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	usedToday, err := r.apps.SubmissionCountSince(ctx, user.ID, dayStart)
	if err != nil {
		return nil, err
	}

	limit := user.DailyQuota - usedToday
	if limit > r.cfg.MaxPerCycle {
		limit = r.cfg.MaxPerCycle
	}
	if limit <= 0 {
		return nil, nil
	}

	selected := make([]model.MatchCandidate, 0, limit)
	for _, c := range candidates {
		if recorded[c.Fingerprint] {
			continue
		}
		selected = append(selected, c)
		if len(selected) == limit {
			break
		}
	}

	return selected, nil
}

// applyOne reserves a quota slot, invokes the executor, and releases the
// slot again unless this call actually submitted.
func (r *Runner) applyOne(ctx context.Context, user *model.UserProfile, p *model.JobPosting, candidate *model.MatchCandidate) (application.State, bool, error) {
	now := r.now().UTC()

	ok, err := r.quota.Reserve(ctx, user.ID, now, user.DailyQuota)
	if err != nil {
		return "", false, err
	}
	if !ok {
		r.logger.Debug("daily quota exhausted",
			zap.String("user_id", user.ID),
			zap.Int("quota", user.DailyQuota),
		)
		return "", false, errQuotaExhausted
	}

	rec, applied, err := r.executor.Apply(ctx, user, p, candidate)
	if err != nil || !applied {
		// Slot not consumed: the attempt failed, was a no-op, or is
		// waiting on backoff.
		if relErr := r.quota.Release(ctx, user.ID, now); relErr != nil {
			r.logger.Warn("quota release failed", zap.String("user_id", user.ID), zap.Error(relErr))
		}
	}
	if err != nil {
		return "", false, err
	}

	return rec.State, applied, nil
}

var errQuotaExhausted = errors.New("daily quota exhausted")
