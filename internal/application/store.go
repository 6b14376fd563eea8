package application

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultPayload is the JSONB blob persisted with each record: the match
// that triggered it and the submission outcome.
type ResultPayload struct {
	Score         float64  `json:"score"`
	Rationale     []string `json:"rationale"`
	ModelVersion  int      `json:"modelVersion"`
	ExternalRef   string   `json:"externalRef,omitempty"`
	FailureReason string   `json:"failureReason,omitempty"`
}

// Record is one application attempt lifecycle for a (user, fingerprint)
// pair. The pair is unique: the duplicate-application guard rests on that.
type Record struct {
	ID            string
	UserID        string
	Fingerprint   string
	AttemptCount  int
	State         State
	CreatedAt     time.Time
	LastAttemptAt time.Time
	NextAttemptAt *time.Time
	Payload       ResultPayload
}

// Store persists application records. The executor is the only writer.
type Store interface {
	// Get returns the record for the pair, or nil when none exists.
	Get(ctx context.Context, userID, fingerprint string) (*Record, error)
	// Create inserts rec unless a record for the pair already exists, in
	// which case the existing record is returned with created=false.
	Create(ctx context.Context, rec *Record) (out *Record, created bool, err error)
	// Update persists the mutable fields of rec.
	Update(ctx context.Context, rec *Record) error
	// ListDueRetries returns the user's records that still need driving:
	// queued records stranded by an interrupted run, and failed_retryable
	// records whose next attempt is due. Descending payload score order.
	ListDueRetries(ctx context.Context, userID string, now time.Time) ([]Record, error)
	// RecordedFingerprints returns every fingerprint the user already has
	// a record for; the scheduler excludes those from fresh candidates.
	RecordedFingerprints(ctx context.Context, userID string) (map[string]bool, error)
	// SubmissionCountSince counts submitted/submitting records created at
	// or after since, for daily-quota accounting.
	SubmissionCountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// PGStore stores records in the applications table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store backed by PostgreSQL.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const recordColumns = `id, user_id, fingerprint, attempt_count, state,
	created_at, last_attempt_at, next_attempt_at, result_payload`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var state string
	if err := row.Scan(
		&r.ID, &r.UserID, &r.Fingerprint, &r.AttemptCount, &state,
		&r.CreatedAt, &r.LastAttemptAt, &r.NextAttemptAt, &r.Payload,
	); err != nil {
		return nil, err
	}

	parsed, err := ParseState(state)
	if err != nil {
		return nil, err
	}
	r.State = parsed

	return &r, nil
}

func (s *PGStore) Get(ctx context.Context, userID, fingerprint string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM applications
		 WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint,
	)

	rec, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return rec, nil
}

// Create races safely on the (user_id, fingerprint) unique constraint: when
// two cycle runs overlap, exactly one insert wins and both see one record.
func (s *PGStore) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO applications
		   (id, user_id, fingerprint, attempt_count, state,
		    created_at, last_attempt_at, next_attempt_at, result_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, fingerprint) DO NOTHING`,
		rec.ID, rec.UserID, rec.Fingerprint, rec.AttemptCount, string(rec.State),
		rec.CreatedAt, rec.LastAttemptAt, rec.NextAttemptAt, rec.Payload,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert application: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.Get(ctx, rec.UserID, rec.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return rec, true, nil
}

func (s *PGStore) Update(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE applications
		 SET attempt_count = $2, state = $3, last_attempt_at = $4,
		     next_attempt_at = $5, result_payload = $6
		 WHERE id = $1`,
		rec.ID, rec.AttemptCount, string(rec.State), rec.LastAttemptAt,
		rec.NextAttemptAt, rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("update application %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PGStore) ListDueRetries(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM applications
		 WHERE user_id = $1
		   AND (state = 'queued'
		        OR (state = 'failed_retryable' AND next_attempt_at <= $2))
		 ORDER BY (result_payload->>'score')::float DESC, fingerprint`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due retry: %w", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func (s *PGStore) RecordedFingerprints(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint FROM applications WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recorded fingerprints: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		seen[fp] = true
	}

	return seen, rows.Err()
}

func (s *PGStore) SubmissionCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications
		 WHERE user_id = $1
		   AND state IN ('submitting', 'submitted')
		   AND last_attempt_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}
