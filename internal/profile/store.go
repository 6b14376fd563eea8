// Package profile reads user profiles maintained by the profile-enhancement
// service. The engine never writes here.
package profile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/applier-service/internal/model"
)

// Store is the read contract the scheduler snapshots users through.
type Store interface {
	ListActive(ctx context.Context) ([]model.UserProfile, error)
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
}

// PGStore reads the user_profiles table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store backed by PostgreSQL.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ListActive snapshots all profiles with status 'active'. Active status is
// the sole gate for inclusion in a cycle; it is flipped by the verification
// service once payment clears.
func (s *PGStore) ListActive(ctx context.Context) ([]model.UserProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, skills, location, remote_ok, role_categories,
		        salary_floor, daily_quota, status
		 FROM user_profiles
		 WHERE status = 'active'`,
	)
	if err != nil {
		return nil, fmt.Errorf("query user_profiles: %w", err)
	}
	defer rows.Close()

	var users []model.UserProfile
	for rows.Next() {
		var u model.UserProfile
		if err := rows.Scan(
			&u.ID, &u.Skills, &u.Location, &u.RemoteOK,
			&u.RoleCategories, &u.SalaryFloor, &u.DailyQuota, &u.Status,
		); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// Get loads one profile. A row that cannot be scanned surfaces as a
// DataIntegrityError so the caller can isolate the user instead of failing
// the cycle.
func (s *PGStore) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	var u model.UserProfile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, skills, location, remote_ok, role_categories,
		        salary_floor, daily_quota, status
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(
		&u.ID, &u.Skills, &u.Location, &u.RemoteOK,
		&u.RoleCategories, &u.SalaryFloor, &u.DailyQuota, &u.Status,
	)
	if err != nil {
		return nil, &model.DataIntegrityError{Kind: "profile", ID: userID, Err: err}
	}

	return &u, nil
}
