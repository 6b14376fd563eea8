package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/gateway"
	"jobmate/applier-service/internal/model"
	"jobmate/applier-service/internal/notify"
)

// retryBackoff is the delay before retry n+1 of a transiently failed
// attempt. After the schedule is exhausted the record goes permanent.
var retryBackoff = []time.Duration{1 * time.Hour, 4 * time.Hour, 12 * time.Hour}

// MaxRetries is the number of re-attempts after the first failed one.
const MaxRetries = 3

// Executor drives application records through the state machine. It is the
// exclusive owner of state transitions.
type Executor struct {
	store    Store
	gw       gateway.Gateway
	notifier notify.Notifier
	timeout  time.Duration
	logger   *zap.Logger

	now func() time.Time // injectable clock for tests
}

// NewExecutor wires an Executor. timeout bounds each gateway call; a timed
// out call counts as a transient failure.
func NewExecutor(store Store, gw gateway.Gateway, notifier notify.Notifier, timeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		store:    store,
		gw:       gw,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply submits one application for the (user, posting) pair. The second
// return value reports whether this call actually reached the submitted
// state, which the scheduler uses for quota accounting.
//
// The duplicate guard runs first: an existing submitting or submitted record
// is returned unchanged, as is a permanently failed one — neither is ever
// re-submitted. A retryable record is re-attempted only once its backoff is
// due. A queued record is re-driven: its run was interrupted before anything
// reached the gateway, so resuming it cannot double-submit.
func (e *Executor) Apply(ctx context.Context, user *model.UserProfile, posting *model.JobPosting, candidate *model.MatchCandidate) (*Record, bool, error) {
	now := e.now().UTC()

	existing, err := e.store.Get(ctx, user.ID, posting.Fingerprint)
	if err != nil {
		return nil, false, err
	}

	var rec *Record
	switch {
	case existing == nil:
		rec = &Record{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			Fingerprint: posting.Fingerprint,
			State:       StateQueued,
			CreatedAt:   now,
			Payload: ResultPayload{
				Score:        candidate.Score,
				Rationale:    candidate.Rationale,
				ModelVersion: candidate.ModelVersion,
			},
		}
		created := false
		if rec, created, err = e.store.Create(ctx, rec); err != nil {
			return nil, false, err
		} else if !created {
			// Lost the insert race to a concurrent run — that run owns
			// the attempt; same no-op as the guard below.
			return rec, false, nil
		}

	case existing.State == StateQueued:
		// Stranded by an interrupted run before the submitting transition;
		// nothing was sent, so the record is safe to drive again.
		rec = existing

	case !IsFailed(existing.State):
		// submitting or submitted — idempotent no-op. A record stuck in
		// submitting means a crash mid-gateway-call: the external state is
		// ambiguous and it is never re-driven.
		return existing, false, nil

	case existing.State == StateFailedPermanent:
		return existing, false, nil

	default: // failed_retryable
		if existing.NextAttemptAt != nil && existing.NextAttemptAt.After(now) {
			return existing, false, nil
		}
		rec = existing
	}

	// Preconditions that fail permanently without touching the gateway.
	if posting.Expired {
		rec, err := e.failPermanent(ctx, rec, "posting expired")
		return rec, false, err
	}
	if user.Status != model.UserActive {
		rec, err := e.failPermanent(ctx, rec, fmt.Sprintf("profile status %s disqualifies submission", user.Status))
		return rec, false, err
	}

	// No new submissions once cancellation is signaled.
	if err := ctx.Err(); err != nil {
		return rec, false, err
	}

	if err := e.transitionTo(ctx, rec, StateSubmitting, now); err != nil {
		return nil, false, err
	}

	receipt, err := e.submit(ctx, user, posting)
	if err != nil {
		rec, err := e.handleFailure(ctx, rec, err)
		return rec, false, err
	}

	rec.Payload.ExternalRef = receipt.ExternalRef
	rec.Payload.FailureReason = ""
	rec.NextAttemptAt = nil
	if err := e.transitionTo(ctx, rec, StateSubmitted, e.now().UTC()); err != nil {
		return nil, false, err
	}

	e.logger.Info("application submitted",
		zap.String("user_id", user.ID),
		zap.String("fingerprint", posting.Fingerprint),
		zap.String("external_ref", receipt.ExternalRef),
		zap.Int("attempt", rec.AttemptCount),
	)

	e.notifier.ApplicationSubmitted(ctx, notify.SubmittedEvent{
		UserID:        user.ID,
		ApplicationID: rec.ID,
		Fingerprint:   posting.Fingerprint,
		ExternalRef:   receipt.ExternalRef,
		SubmittedAt:   rec.LastAttemptAt,
	})

	return rec, true, nil
}

// submit calls the gateway under the per-call timeout. The timeout context
// is detached from the cycle context: an in-flight submission runs to
// completion even during shutdown, so the external state is never ambiguous.
func (e *Executor) submit(ctx context.Context, user *model.UserProfile, posting *model.JobPosting) (*gateway.Receipt, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	return e.gw.Submit(callCtx, gateway.Submission{
		UserID:      user.ID,
		Fingerprint: posting.Fingerprint,
		Title:       posting.Title,
		Employer:    posting.Employer,
		SourceID:    posting.SourceID,
		Source:      posting.Source,
	})
}

// handleFailure classifies a gateway error and advances the record:
// transient failures consume retry budget, everything else is permanent.
func (e *Executor) handleFailure(ctx context.Context, rec *Record, cause error) (*Record, error) {
	now := e.now().UTC()
	rec.Payload.FailureReason = cause.Error()

	if !model.IsTransient(cause) {
		e.logger.Warn("application rejected permanently",
			zap.String("user_id", rec.UserID),
			zap.String("fingerprint", rec.Fingerprint),
			zap.Error(cause),
		)
		return rec, e.transitionTo(ctx, rec, StateFailedPermanent, now)
	}

	// AttemptCount was stamped on the submitting transition: the first
	// attempt plus MaxRetries re-attempts may fail before going permanent.
	if rec.AttemptCount > MaxRetries {
		e.logger.Warn("retry budget exhausted",
			zap.String("user_id", rec.UserID),
			zap.String("fingerprint", rec.Fingerprint),
			zap.Int("attempts", rec.AttemptCount),
		)
		return rec, e.transitionTo(ctx, rec, StateFailedPermanent, now)
	}

	delay := retryBackoff[rec.AttemptCount-1]
	var te *model.TransientError
	if errors.As(cause, &te) && te.RetryAfter > delay {
		delay = te.RetryAfter
	}

	next := now.Add(delay)
	rec.NextAttemptAt = &next

	e.logger.Info("transient failure, scheduling retry",
		zap.String("user_id", rec.UserID),
		zap.String("fingerprint", rec.Fingerprint),
		zap.Int("attempt", rec.AttemptCount),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)

	return rec, e.transitionTo(ctx, rec, StateFailedRetryable, now)
}

// transitionTo validates and persists a state transition. Entering
// submitting stamps a new attempt.
func (e *Executor) transitionTo(ctx context.Context, rec *Record, to State, now time.Time) error {
	if !IsTransitionAllowed(rec.State, to) {
		return fmt.Errorf("illegal transition %s → %s for application %s", rec.State, to, rec.ID)
	}

	if to == StateSubmitting {
		rec.AttemptCount++
	}
	rec.State = to
	rec.LastAttemptAt = now
	if IsTerminal(to) {
		rec.NextAttemptAt = nil
	}

	return e.store.Update(ctx, rec)
}

// failPermanent short-circuits a record that must not reach the gateway.
func (e *Executor) failPermanent(ctx context.Context, rec *Record, reason string) (*Record, error) {
	rec.Payload.FailureReason = reason

	to := StateFailedPermanent
	if !IsTransitionAllowed(rec.State, to) {
		return rec, nil // already terminal
	}

	e.logger.Info("application failed without submission",
		zap.String("user_id", rec.UserID),
		zap.String("fingerprint", rec.Fingerprint),
		zap.String("reason", reason),
	)

	return rec, e.transitionTo(ctx, rec, to, e.now().UTC())
}
