// Package mfa issues and verifies the one-time codes that complete a login.
package mfa

import (
	"context"
	"errors"
	"time"

	"custodial-ledger/internal/mfa/domain"
	"custodial-ledger/internal/mfa/repository"
)

// DefaultMaxAttempts bounds wrong guesses against a single challenge.
const DefaultMaxAttempts = 5

var (
	// ErrCodeMismatch is returned for a wrong code, or when no live challenge matches the session.
	ErrCodeMismatch = errors.New("verification code does not match")
	// ErrExpired is returned for a correct code presented after its validity window.
	ErrExpired = errors.New("verification code expired")
	// ErrTooManyAttempts is returned once a challenge has absorbed its maximum number of wrong guesses.
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

// Gate issues one code per account and verifies it at most once.
type Gate struct {
	repo        repository.Repository
	ttl         time.Duration
	maxAttempts int
	nowF        func() time.Time
}

// NewGate returns a Gate backed by repo. Non-positive ttl or maxAttempts fall back to defaults.
func NewGate(repo repository.Repository, ttl time.Duration, maxAttempts int) *Gate {
	if ttl <= 0 {
		ttl = repository.DefaultChallengeTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Gate{repo: repo, ttl: ttl, maxAttempts: maxAttempts, nowF: time.Now}
}

// TTL returns the validity window of issued codes.
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Issue mints a fresh code for accountID bound to sessionID, replacing any earlier code.
// The plaintext code is returned for delivery and never stored.
func (g *Gate) Issue(ctx context.Context, accountID, sessionID string) (string, time.Time, error) {
	code, err := GenerateOTP()
	if err != nil {
		return "", time.Time{}, err
	}
	now := g.nowF().UTC()
	c := &domain.Challenge{
		AccountID: accountID,
		SessionID: sessionID,
		CodeHash:  HashOTP(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.repo.Replace(ctx, c); err != nil {
		return "", time.Time{}, err
	}
	return code, c.ExpiresAt, nil
}

// Verify checks code against the live challenge for accountID minted by sessionID.
// A successful verification consumes the challenge, so a code succeeds at most once.
// Wrong codes count against the attempt limit and the challenge is dropped when the limit is reached.
// Expiry is only reported for a correct code.
func (g *Gate) Verify(ctx context.Context, accountID, sessionID, code string, now time.Time) error {
	return g.repo.Resolve(ctx, accountID, func(c *domain.Challenge) (domain.Action, error) {
		if c == nil || c.SessionID != sessionID {
			return domain.Keep, ErrCodeMismatch
		}
		if c.Attempts >= g.maxAttempts {
			return domain.Consume, ErrTooManyAttempts
		}
		if !OTPEqual(code, c.CodeHash) {
			if c.Attempts+1 >= g.maxAttempts {
				return domain.Consume, ErrCodeMismatch
			}
			return domain.CountFailure, ErrCodeMismatch
		}
		if c.Expired(now) {
			return domain.Consume, ErrExpired
		}
		return domain.Consume, nil
	})
}

// Discard drops the challenge minted for sessionID.
func (g *Gate) Discard(ctx context.Context, sessionID string) error {
	return g.repo.DeleteBySession(ctx, sessionID)
}

// Sweep removes challenges that expired before now.
func (g *Gate) Sweep(ctx context.Context) (int64, error) {
	return g.repo.DeleteExpired(ctx, g.nowF().UTC())
}
