package posting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/model"
)

// Store is the catalog contract consumed by the ingester and the scheduler.
type Store interface {
	Ingest(ctx context.Context, p model.JobPosting) error
	ListFresh(ctx context.Context, since time.Time, excludeExpired bool) ([]model.JobPosting, error)
	MarkExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PGStore persists postings in the job_postings table, keyed by fingerprint.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore returns a Store backed by PostgreSQL.
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	return &PGStore{pool: pool, logger: logger}
}

// Ingest inserts or refreshes a posting by fingerprint. A malformed posting
// is dropped and logged — ingestion is never fatal to the batch.
func (s *PGStore) Ingest(ctx context.Context, p model.JobPosting) error {
	if err := validate(&p); err != nil {
		s.logger.Warn("dropping malformed posting",
			zap.String("source", p.Source),
			zap.String("source_id", p.SourceID),
			zap.Error(err),
		)
		return nil
	}

	if p.Fingerprint == "" {
		p.Fingerprint = Fingerprint(p.Employer, p.Title, p.Location)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_postings
		   (fingerprint, source, source_id, title, employer, location,
		    remote_eligible, required_skills, salary_offered, posted_at, expired)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
		 ON CONFLICT (fingerprint) DO UPDATE
		   SET source = EXCLUDED.source,
		       source_id = EXCLUDED.source_id,
		       expired = false`,
		p.Fingerprint, p.Source, p.SourceID, p.Title, p.Employer, p.Location,
		p.RemoteEligible, p.RequiredSkills, p.SalaryOffered, p.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("ingest posting %s: %w", p.Fingerprint, err)
	}

	return nil
}

// ListFresh returns non-stale postings ordered by posted_at descending.
// The (posted_at, fingerprint) ordering is total, so a re-listing after a
// restart walks the same sequence.
func (s *PGStore) ListFresh(ctx context.Context, since time.Time, excludeExpired bool) ([]model.JobPosting, error) {
	q := `SELECT fingerprint, source, source_id, title, employer, location,
	             remote_eligible, required_skills, salary_offered, posted_at, expired
	      FROM job_postings
	      WHERE posted_at >= $1`
	if excludeExpired {
		q += ` AND expired = false`
	}
	q += ` ORDER BY posted_at DESC, fingerprint`

	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("query job_postings: %w", err)
	}
	defer rows.Close()

	var postings []model.JobPosting
	for rows.Next() {
		var p model.JobPosting
		if err := rows.Scan(
			&p.Fingerprint, &p.Source, &p.SourceID, &p.Title, &p.Employer,
			&p.Location, &p.RemoteEligible, &p.RequiredSkills, &p.SalaryOffered,
			&p.PostedAt, &p.Expired,
		); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		postings = append(postings, p)
	}

	return postings, rows.Err()
}

// MarkExpired flags postings older than the staleness threshold.
func (s *PGStore) MarkExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET expired = true WHERE expired = false AND posted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// validate rejects postings the catalog cannot key or score.
func validate(p *model.JobPosting) error {
	if strings.TrimSpace(p.Title) == "" {
		return &model.DataIntegrityError{Kind: "posting", ID: p.SourceID, Err: fmt.Errorf("empty title")}
	}
	if strings.TrimSpace(p.Employer) == "" {
		return &model.DataIntegrityError{Kind: "posting", ID: p.SourceID, Err: fmt.Errorf("empty employer")}
	}
	if p.PostedAt.IsZero() {
		return &model.DataIntegrityError{Kind: "posting", ID: p.SourceID, Err: fmt.Errorf("missing posted_at")}
	}
	if p.SalaryOffered < 0 {
		return &model.DataIntegrityError{Kind: "posting", ID: p.SourceID, Err: fmt.Errorf("negative salary %d", p.SalaryOffered)}
	}
	return nil
}
