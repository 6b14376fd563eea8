// Package application owns the ApplicationRecord state machine and the
// executor that drives records through it.
//
// Valid state graph:
//
//	queued ──► submitting ──► submitted
//	               │
//	               ├──► failed_retryable ──► submitting   (≤ 3 retries)
//	               │            │
//	               │            └──► failed_permanent
//	               └──► failed_permanent
//
// submitted and failed_permanent are terminal.
package application

import "fmt"

// State values mirror the application_state enum in PostgreSQL.
type State string

const (
	StateQueued          State = "queued"
	StateSubmitting      State = "submitting"
	StateSubmitted       State = "submitted"
	StateFailedRetryable State = "failed_retryable"
	StateFailedPermanent State = "failed_permanent"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateQueued:          {StateSubmitting, StateFailedPermanent},
	StateSubmitting:      {StateSubmitted, StateFailedRetryable, StateFailedPermanent},
	StateFailedRetryable: {StateSubmitting, StateFailedPermanent},
	// submitted and failed_permanent are terminal — no outgoing transitions
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateQueued, StateSubmitting, StateSubmitted, StateFailedRetryable, StateFailedPermanent:
		return st, nil
	}
	return "", fmt.Errorf("unknown application state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by
// the state machine.
func IsTransitionAllowed(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions.
func IsTerminal(s State) bool {
	return s == StateSubmitted || s == StateFailedPermanent
}

// IsFailed returns true for the two failure states. The duplicate guard
// ("at most one non-failed record per pair") counts everything else.
func IsFailed(s State) bool {
	return s == StateFailedRetryable || s == StateFailedPermanent
}
