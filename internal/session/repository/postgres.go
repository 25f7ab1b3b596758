package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custodial-ledger/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts the session.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, state, created_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.AccountID, string(s.State), s.CreatedAt, s.ExpiresAt, s.LastSeenAt,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	var state string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, state, created_at, expires_at, last_seen_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.AccountID, &state, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.State = domain.State(state)
	return &s, nil
}

// Elevate is a compare-and-set on state; concurrent verifications elevate once.
func (r *PostgresRepository) Elevate(ctx context.Context, id string, at, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = $2, last_seen_at = $3, expires_at = $4
		WHERE id = $1 AND state = $5`,
		id, string(domain.StateAuthorized), at, expiresAt, string(domain.StatePendingOTP),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateLastSeen sets last_seen_at for the session.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

// Delete removes the session. Its challenge, if any, goes with it (ON DELETE CASCADE).
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteExpired removes expired and idle sessions.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR last_seen_at < $2`, now, idleCutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
