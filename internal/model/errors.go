package model

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks a failure worth retrying on the backoff schedule:
// network errors, timeouts, rate limits, temporary unavailability.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // from a Retry-After header, zero if absent
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentRejection marks a failure that must never be retried: posting
// withdrawn, duplicate detected downstream, disqualifying profile state.
type PermanentRejection struct {
	Reason string
}

func (e *PermanentRejection) Error() string {
	return fmt.Sprintf("permanently rejected: %s", e.Reason)
}

// DataIntegrityError marks a malformed posting or profile. The offending
// item is skipped and logged; the error never propagates past it.
type DataIntegrityError struct {
	Kind string // "posting" or "profile"
	ID   string
	Err  error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("malformed %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// CycleFatalError aborts the whole cycle: lock not acquired, storage
// unreachable. The cycle is retried at the next scheduled trigger only.
type CycleFatalError struct {
	Err error
}

func (e *CycleFatalError) Error() string {
	return fmt.Sprintf("cycle aborted: %v", e.Err)
}

func (e *CycleFatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried on the backoff schedule.
// Context cancellation is never transient: a cancelled cycle must not burn
// retry budget.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanentRejection reports whether err is terminal for the application.
func IsPermanentRejection(err error) bool {
	var pe *PermanentRejection
	return errors.As(err, &pe)
}

// IsDataIntegrity reports whether err is an item-level data problem.
func IsDataIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}
