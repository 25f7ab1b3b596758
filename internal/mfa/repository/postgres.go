package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custodial-ledger/internal/db"
	"custodial-ledger/internal/mfa/domain"
)

type PostgresRepository struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
// txTimeout bounds the locking transaction used by Resolve.
func NewPostgresRepository(conn *sql.DB, txTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: conn, txTimeout: txTimeout}
}

// Replace upserts the challenge keyed by account_id and resets its attempt counter.
func (r *PostgresRepository) Replace(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (account_id, session_id, code_hash, issued_at, expires_at, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (account_id) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    code_hash  = EXCLUDED.code_hash,
		    issued_at  = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at,
		    attempts   = 0`,
		c.AccountID, c.SessionID, c.CodeHash, c.IssuedAt, c.ExpiresAt,
	)
	return err
}

// Resolve serializes verifications for one account with SELECT ... FOR UPDATE.
func (r *PostgresRepository) Resolve(ctx context.Context, accountID string, decide Decide) error {
	var outcome error
	err := db.WithTx(ctx, r.db, r.txTimeout, func(tx *sql.Tx) error {
		c, err := lockChallenge(ctx, tx, accountID)
		if err != nil {
			return err
		}
		action, result := decide(c)
		outcome = result
		if c == nil {
			return nil
		}
		switch action {
		case domain.CountFailure:
			_, err = tx.ExecContext(ctx,
				`UPDATE otp_challenges SET attempts = attempts + 1 WHERE account_id = $1`, accountID)
		case domain.Consume:
			_, err = tx.ExecContext(ctx, `DELETE FROM otp_challenges WHERE account_id = $1`, accountID)
		}
		return err
	})
	if err != nil {
		return err
	}
	return outcome
}

// DeleteBySession removes the challenge bound to sessionID.
func (r *PostgresRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE session_id = $1`, sessionID)
	return err
}

// DeleteExpired removes challenges whose expiry is before cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func lockChallenge(ctx context.Context, tx *sql.Tx, accountID string) (*domain.Challenge, error) {
	var c domain.Challenge
	err := tx.QueryRowContext(ctx, `
		SELECT account_id, session_id, code_hash, issued_at, expires_at, attempts
		FROM otp_challenges WHERE account_id = $1 FOR UPDATE`, accountID,
	).Scan(&c.AccountID, &c.SessionID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
