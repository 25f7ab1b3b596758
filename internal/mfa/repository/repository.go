package repository

import (
	"context"
	"time"

	"custodial-ledger/internal/mfa/domain"
)

// Decide inspects the locked challenge for an account (nil when there is none) and returns
// what to do with the row plus the outcome to hand back to the caller.
type Decide func(c *domain.Challenge) (domain.Action, error)

// Repository defines persistence for OTP challenges. At most one challenge exists per account.
type Repository interface {
	// Replace stores c as the account's live challenge, discarding any previous one.
	Replace(ctx context.Context, c *domain.Challenge) error
	// Resolve locks the account's challenge, runs decide, applies its action and commits.
	// The error returned by decide is returned unchanged once the action has been committed.
	Resolve(ctx context.Context, accountID string, decide Decide) error
	// DeleteBySession removes the challenge minted for sessionID, if any.
	DeleteBySession(ctx context.Context, sessionID string) error
	// DeleteExpired removes challenges that expired before cutoff and returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultChallengeTTL is the default OTP challenge validity window.
const DefaultChallengeTTL = 5 * time.Minute
