// Package model defines shared data structures for the applier service.
package model

import "time"

// UserStatus mirrors the user_status enum in PostgreSQL. Only active users
// are included in a matching cycle; the field is owned by the verification
// service and read-only here.
type UserStatus string

const (
	UserPendingVerification UserStatus = "pending_verification"
	UserActive              UserStatus = "active"
	UserSuspended           UserStatus = "suspended"
)

// UserProfile is the structured profile derived from the user's enhanced CV.
// Mutated by the profile-enhancement service; the engine only reads it.
type UserProfile struct {
	ID             string
	Skills         []string
	Location       string
	RemoteOK       bool
	RoleCategories []string
	SalaryFloor    int
	DailyQuota     int
	Status         UserStatus
}

// JobPosting is a normalised posting ingested from an external source.
// Immutable after ingest except for the Expired flag, which is set when the
// posting disappears from its source or passes the staleness threshold.
type JobPosting struct {
	SourceID       string
	Source         string
	Title          string
	Employer       string
	Location       string
	RemoteEligible bool
	RequiredSkills []string
	SalaryOffered  int
	PostedAt       time.Time
	Fingerprint    string
	Expired        bool
}

// MatchCandidate is computed per cycle and discarded afterwards, except for
// the subset actually applied to (persisted inside the application record).
type MatchCandidate struct {
	UserID       string
	Fingerprint  string
	Score        float64
	Rationale    []string
	ModelVersion int
}

// FeedbackSignal is an observed downstream outcome attached to a submitted
// application.
type FeedbackSignal string

const (
	SignalViewed     FeedbackSignal = "viewed"
	SignalRejected   FeedbackSignal = "rejected"
	SignalInterview  FeedbackSignal = "interview"
	SignalHired      FeedbackSignal = "hired"
	SignalNoResponse FeedbackSignal = "no_response"
)

// FeedbackEvent is append-only: corrections are recorded as new events.
type FeedbackEvent struct {
	ID            string
	ApplicationID string
	Signal        FeedbackSignal
	ObservedAt    time.Time
}

// CycleStats is the per-cycle observability row persisted after every run.
type CycleStats struct {
	CycleID        string
	ModelVersion   int
	StartedAt      time.Time
	FinishedAt     time.Time
	UsersProcessed int
	UsersFailed    int
	Scored         int
	Submitted      int
	Retried        int
	Failures       int
}
